package planfile

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/lockstep/internal/database"
)

// Finding is a statement that refuses to run inside a transaction block.
type Finding struct {
	// Statement is the 1-based position of the statement in the step.
	Statement int
	Operation string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s (statement %d)", f.Operation, f.Statement)
}

// Inspect reports the statements in sqlText that cannot run inside a
// transaction. Postgres SQL is parsed; SQLite only has VACUUM, which is
// found lexically.
func Inspect(sqlText string, dbType database.DatabaseType) ([]Finding, error) {
	if dbType != database.DatabaseTypePostgres {
		return inspectSQLite(sqlText), nil
	}

	tree, err := pg_query.Parse(sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SQL: %w", err)
	}

	var findings []Finding
	for i, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		if op := nonTransactional(raw.Stmt); op != "" {
			findings = append(findings, Finding{Statement: i + 1, Operation: op})
		}
	}
	return findings, nil
}

func nonTransactional(stmt *pg_query.Node) string {
	switch node := stmt.Node.(type) {
	case *pg_query.Node_IndexStmt:
		if node.IndexStmt.Concurrent {
			return "CREATE INDEX CONCURRENTLY"
		}
	case *pg_query.Node_DropStmt:
		if node.DropStmt.Concurrent {
			return "DROP INDEX CONCURRENTLY"
		}
	case *pg_query.Node_ReindexStmt:
		for _, param := range node.ReindexStmt.Params {
			if def, ok := param.Node.(*pg_query.Node_DefElem); ok && def.DefElem.Defname == "concurrently" {
				return "REINDEX CONCURRENTLY"
			}
		}
	case *pg_query.Node_VacuumStmt:
		if node.VacuumStmt.IsVacuumcmd {
			return "VACUUM"
		}
	case *pg_query.Node_CreatedbStmt:
		return "CREATE DATABASE"
	case *pg_query.Node_DropdbStmt:
		return "DROP DATABASE"
	case *pg_query.Node_AlterSystemStmt:
		return "ALTER SYSTEM"
	case *pg_query.Node_CreateTableSpaceStmt:
		return "CREATE TABLESPACE"
	case *pg_query.Node_DropTableSpaceStmt:
		return "DROP TABLESPACE"
	}
	return ""
}

func inspectSQLite(sqlText string) []Finding {
	var findings []Finding
	for i, stmt := range splitSQLite(sqlText) {
		fields := strings.Fields(stmt)
		if len(fields) > 0 && strings.EqualFold(fields[0], "VACUUM") {
			findings = append(findings, Finding{Statement: i + 1, Operation: "VACUUM"})
		}
	}
	return findings
}

// Statements splits sqlText into the statements a step executes one by
// one. Postgres steps are split with the Postgres parser so each statement
// runs on its own; that is what lets an unscoped step mix
// CREATE INDEX CONCURRENTLY with other statements. Other databases run the
// script as a single statement.
func Statements(sqlText string, dbType database.DatabaseType) ([]string, error) {
	if dbType != database.DatabaseTypePostgres {
		script := strings.TrimSpace(sqlText)
		if script == "" {
			return nil, nil
		}
		return []string{script}, nil
	}
	stmts, err := pg_query.SplitWithParser(sqlText, true)
	if err != nil {
		return nil, fmt.Errorf("failed to split SQL: %w", err)
	}
	out := stmts[:0]
	for _, s := range stmts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// splitSQLite splits on semicolons outside quotes and comments. It is only
// used to find statement heads, never to execute.
func splitSQLite(sqlText string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   rune
	)
	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
			current.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			current.WriteRune(' ')
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			current.WriteRune(' ')
		case r == ';':
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
