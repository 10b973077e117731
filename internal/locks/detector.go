package locks

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// StatementImpact is the lock one Postgres statement takes.
type StatementImpact struct {
	Statement   string
	LockMode    LockMode
	Explanation string
}

// StepImpact sums up the locks of a step's statements.
type StepImpact struct {
	Statements []StatementImpact
	// LockMode is the strongest mode any statement takes.
	LockMode LockMode
}

func (s StepImpact) Impact() ImpactLevel {
	return s.LockMode.ImpactLevel()
}

// AnalyzeStatements works out the lock each statement takes. Inside a
// scoped step those locks stay held until the run's transaction ends.
func AnalyzeStatements(stmts []string) (StepImpact, error) {
	var out StepImpact
	for _, stmt := range stmts {
		mode, why, err := DetectLockMode(stmt)
		if err != nil {
			return StepImpact{}, err
		}
		out.Statements = append(out.Statements, StatementImpact{Statement: stmt, LockMode: mode, Explanation: why})
		if mode > out.LockMode {
			out.LockMode = mode
		}
	}
	return out, nil
}

// DetectLockMode parses a single statement and returns the strongest table
// lock it takes, with a short explanation. Statements it does not know are
// assumed to take ACCESS EXCLUSIVE.
func DetectLockMode(stmt string) (LockMode, string, error) {
	tree, err := pg_query.Parse(stmt)
	if err != nil {
		return LockAccessExclusive, "", fmt.Errorf("failed to parse SQL: %w", err)
	}
	mode, why := LockAccessShare, "No statements"
	for _, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		m, w := detectNode(raw.Stmt)
		if m >= mode {
			mode, why = m, w
		}
	}
	return mode, why, nil
}

func detectNode(stmt *pg_query.Node) (LockMode, string) {
	switch node := stmt.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if len(node.SelectStmt.LockingClause) > 0 {
			return LockRowShare, "SELECT FOR UPDATE/SHARE locks the selected rows"
		}
		return LockAccessShare, "Read-only operation"

	case *pg_query.Node_InsertStmt, *pg_query.Node_UpdateStmt, *pg_query.Node_DeleteStmt:
		return LockRowExclusive, "Normal DML operation (INSERT/UPDATE/DELETE)"

	case *pg_query.Node_CreateStmt, *pg_query.Node_CreateSeqStmt, *pg_query.Node_ViewStmt, *pg_query.Node_CreateFunctionStmt:
		return LockAccessShare, "Creates a new object; nothing existing is locked"

	case *pg_query.Node_IndexStmt:
		if node.IndexStmt.Concurrent {
			return LockShareUpdateExclusive, "CREATE INDEX CONCURRENTLY allows concurrent reads and writes"
		}
		return LockShare, "CREATE INDEX requires SHARE lock, blocking writes during index build"

	case *pg_query.Node_AlterTableStmt:
		return detectAlterTable(node.AlterTableStmt)

	case *pg_query.Node_DropStmt:
		if node.DropStmt.Concurrent {
			return LockShareUpdateExclusive, "DROP INDEX CONCURRENTLY allows concurrent reads and writes"
		}
		if node.DropStmt.RemoveType == pg_query.ObjectType_OBJECT_TABLE {
			return LockAccessExclusive, "DROP TABLE requires exclusive access to remove the table"
		}
		return LockAccessExclusive, "DROP requires exclusive access to the object"

	case *pg_query.Node_TruncateStmt:
		return LockAccessExclusive, "TRUNCATE requires exclusive access to delete all rows"

	case *pg_query.Node_VacuumStmt:
		return LockShareUpdateExclusive, "VACUUM allows concurrent reads and writes"

	case *pg_query.Node_ReindexStmt:
		for _, param := range node.ReindexStmt.Params {
			if def, ok := param.Node.(*pg_query.Node_DefElem); ok && def.DefElem.Defname == "concurrently" {
				return LockShareUpdateExclusive, "REINDEX CONCURRENTLY allows concurrent reads and writes"
			}
		}
		return LockShare, "REINDEX blocks writes to the table while the index is rebuilt"

	case *pg_query.Node_CommentStmt, *pg_query.Node_GrantStmt:
		return LockAccessShare, "Catalog-only change"
	}
	return LockAccessExclusive, "Unrecognized statement; assuming exclusive access"
}

func detectAlterTable(stmt *pg_query.AlterTableStmt) (LockMode, string) {
	mode, why := LockShareUpdateExclusive, "ALTER TABLE allows concurrent reads and writes"
	for _, cmdNode := range stmt.Cmds {
		cmd, ok := cmdNode.Node.(*pg_query.Node_AlterTableCmd)
		if !ok {
			continue
		}
		m, w := alterTableCmdLock(cmd.AlterTableCmd)
		if m >= mode {
			mode, why = m, w
		}
	}
	return mode, why
}

func alterTableCmdLock(cmd *pg_query.AlterTableCmd) (LockMode, string) {
	switch cmd.Subtype {
	case pg_query.AlterTableType_AT_ValidateConstraint:
		return LockShareUpdateExclusive, "VALIDATE CONSTRAINT allows concurrent reads and writes"
	case pg_query.AlterTableType_AT_AddColumn:
		if def, ok := cmd.Def.GetNode().(*pg_query.Node_ColumnDef); ok && hasDefault(def.ColumnDef) {
			return LockAccessExclusive, "ALTER TABLE ADD COLUMN with DEFAULT may rewrite the table"
		}
		return LockAccessExclusive, "ALTER TABLE requires exclusive access to modify table structure"
	case pg_query.AlterTableType_AT_DropColumn:
		return LockAccessExclusive, "DROP COLUMN requires exclusive access to modify table structure"
	case pg_query.AlterTableType_AT_AlterColumnType:
		return LockAccessExclusive, "Changing column type may require rewriting the entire table"
	case pg_query.AlterTableType_AT_AddConstraint:
		if c, ok := cmd.Def.GetNode().(*pg_query.Node_Constraint); ok && c.Constraint.SkipValidation {
			return LockAccessExclusive, "ADD CONSTRAINT NOT VALID holds exclusive access only briefly"
		}
		return LockAccessExclusive, "ADD CONSTRAINT scans all existing rows to validate the constraint"
	}
	return LockAccessExclusive, "ALTER TABLE operation requires exclusive access"
}

func hasDefault(col *pg_query.ColumnDef) bool {
	for _, c := range col.Constraints {
		if cons, ok := c.Node.(*pg_query.Node_Constraint); ok && cons.Constraint.Contype == pg_query.ConstrType_CONSTR_DEFAULT {
			return true
		}
	}
	return false
}
