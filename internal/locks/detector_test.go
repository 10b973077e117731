package locks_test

import (
	"testing"

	"github.com/lockplane/lockstep/internal/locks"
)

func TestDetectLockMode(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want locks.LockMode
	}{
		{"select", "SELECT * FROM users", locks.LockAccessShare},
		{"select for update", "SELECT * FROM users FOR UPDATE", locks.LockRowShare},
		{"insert", "INSERT INTO users (email) VALUES ('a@example.com')", locks.LockRowExclusive},
		{"update", "UPDATE users SET email = lower(email)", locks.LockRowExclusive},
		{"delete", "DELETE FROM users WHERE id = 1", locks.LockRowExclusive},
		{"create table", "CREATE TABLE users (id bigint PRIMARY KEY)", locks.LockAccessShare},
		{"create index", "CREATE INDEX idx_users_email ON users(email)", locks.LockShare},
		{"create unique index", "CREATE UNIQUE INDEX idx_users_email ON users(email)", locks.LockShare},
		{"create index concurrently", "CREATE INDEX CONCURRENTLY idx_users_email ON users(email)", locks.LockShareUpdateExclusive},
		{"add column", "ALTER TABLE users ADD COLUMN age integer", locks.LockAccessExclusive},
		{"add column with default", "ALTER TABLE users ADD COLUMN active boolean DEFAULT true", locks.LockAccessExclusive},
		{"drop column", "ALTER TABLE users DROP COLUMN age", locks.LockAccessExclusive},
		{"add constraint not valid", "ALTER TABLE users ADD CONSTRAINT age_positive CHECK (age > 0) NOT VALID", locks.LockAccessExclusive},
		{"validate constraint", "ALTER TABLE users VALIDATE CONSTRAINT age_positive", locks.LockShareUpdateExclusive},
		{"drop table", "DROP TABLE users", locks.LockAccessExclusive},
		{"drop index concurrently", "DROP INDEX CONCURRENTLY idx_users_email", locks.LockShareUpdateExclusive},
		{"truncate", "TRUNCATE users", locks.LockAccessExclusive},
		{"vacuum", "VACUUM users", locks.LockShareUpdateExclusive},
		{"reindex", "REINDEX INDEX idx_users_email", locks.LockShare},
		{"reindex concurrently", "REINDEX INDEX CONCURRENTLY idx_users_email", locks.LockShareUpdateExclusive},
		{"comment", "COMMENT ON TABLE users IS 'people'", locks.LockAccessShare},
		{"unknown", "CLUSTER users USING users_pkey", locks.LockAccessExclusive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, why, err := locks.DetectLockMode(tt.sql)
			if err != nil {
				t.Fatalf("DetectLockMode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DetectLockMode(%q) = %v, want %v", tt.sql, got, tt.want)
			}
			if why == "" {
				t.Errorf("DetectLockMode(%q) gave no explanation", tt.sql)
			}
		})
	}
}

func TestDetectLockModeParseError(t *testing.T) {
	if _, _, err := locks.DetectLockMode("ALTER TABEL users"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestAnalyzeStatements(t *testing.T) {
	impact, err := locks.AnalyzeStatements([]string{
		"INSERT INTO audit (event) VALUES ('backfill')",
		"CREATE INDEX idx_users_email ON users(email)",
		"UPDATE users SET email = lower(email)",
	})
	if err != nil {
		t.Fatalf("AnalyzeStatements() error = %v", err)
	}
	if impact.LockMode != locks.LockShare {
		t.Errorf("LockMode = %v, want SHARE", impact.LockMode)
	}
	if impact.Impact() != locks.ImpactMedium {
		t.Errorf("Impact() = %v, want MEDIUM", impact.Impact())
	}
	if len(impact.Statements) != 3 {
		t.Fatalf("got %d statements, want 3", len(impact.Statements))
	}
	if impact.Statements[2].LockMode != locks.LockRowExclusive {
		t.Errorf("third statement lock = %v", impact.Statements[2].LockMode)
	}

	empty, err := locks.AnalyzeStatements(nil)
	if err != nil || empty.LockMode != locks.LockAccessShare {
		t.Errorf("AnalyzeStatements(nil) = %v, %v", empty, err)
	}
}
