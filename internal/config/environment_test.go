package config

import (
	"path/filepath"
	"testing"
)

// clearProcessOverrides keeps the developer's own LOCKSTEP_* variables out
// of the test.
func clearProcessOverrides(t *testing.T) {
	t.Helper()
	t.Setenv(EnvDatabaseURL, "")
	t.Setenv(EnvPlan, "")
}

func TestResolveEnvironmentDefaults(t *testing.T) {
	clearProcessOverrides(t)
	t.Chdir(t.TempDir())

	env, err := ResolveEnvironment(&Config{}, "")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.Name != defaultEnvironmentName {
		t.Fatalf("Expected default environment name %q, got %q", defaultEnvironmentName, env.Name)
	}
	if env.DatabaseURL != defaultDatabaseURL {
		t.Fatalf("Expected default database URL %q, got %q", defaultDatabaseURL, env.DatabaseURL)
	}
	if env.PlanPath != defaultPlanPath {
		t.Fatalf("Expected default plan path %q, got %q", defaultPlanPath, env.PlanPath)
	}
}

func TestResolveEnvironmentFromConfig(t *testing.T) {
	clearProcessOverrides(t)
	tempDir := t.TempDir()

	config := &Config{
		DefaultEnvironment: "staging",
		Plan:               "db/plan.toml",
		ConfigFilePath:     filepath.Join(tempDir, FileName),
		Environments: map[string]EnvironmentConfig{
			"staging": {DatabaseURL: "postgres://staging"},
			"ci":      {DatabaseURL: "ci.db", Plan: "db/ci-plan.yaml"},
		},
	}

	env, err := ResolveEnvironment(config, "")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.Name != "staging" || env.DatabaseURL != "postgres://staging" || !env.FromConfig {
		t.Fatalf("Unexpected environment %+v", env)
	}
	if env.PlanPath != filepath.Join(tempDir, "db/plan.toml") {
		t.Fatalf("Expected plan path resolved against config dir, got %q", env.PlanPath)
	}

	ci, err := ResolveEnvironment(config, "ci")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if ci.PlanPath != filepath.Join(tempDir, "db/ci-plan.yaml") {
		t.Fatalf("Expected per-environment plan, got %q", ci.PlanPath)
	}
}

func TestResolveEnvironmentFromDotenv(t *testing.T) {
	clearProcessOverrides(t)
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, ".env.staging"), "DATABASE_URL=postgres://staging\nPLAN_PATH=plans/staging.toml\n")

	config := &Config{
		ConfigFilePath: filepath.Join(tempDir, FileName),
		Environments: map[string]EnvironmentConfig{
			"staging": {DatabaseURL: "postgres://from-config"},
		},
	}

	env, err := ResolveEnvironment(config, "staging")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.DatabaseURL != "postgres://staging" {
		t.Fatalf("Expected dotenv database URL, got %q", env.DatabaseURL)
	}
	if !env.FromDotenv {
		t.Fatal("Expected FromDotenv")
	}
	if env.PlanPath != filepath.Join(tempDir, "plans/staging.toml") {
		t.Fatalf("Expected dotenv plan path, got %q", env.PlanPath)
	}
}

func TestResolveEnvironmentDotenvVariables(t *testing.T) {
	tests := []struct {
		name    string
		dotenv  string
		wantURL string
	}{
		{"postgres", "POSTGRES_URL=postgres://pg\n", "postgres://pg"},
		{"sqlite", "SQLITE_DB_PATH=./app.db\n", "./app.db"},
		{"libsql with token", "LIBSQL_URL=libsql://db.turso.io\nLIBSQL_AUTH_TOKEN=secret\n", "libsql://db.turso.io?authToken=secret"},
		{"libsql", "LIBSQL_URL=libsql://db.turso.io\n", "libsql://db.turso.io"},
		{"database url wins", "DATABASE_URL=postgres://main\nPOSTGRES_URL=postgres://pg\n", "postgres://main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProcessOverrides(t)
			tempDir := t.TempDir()
			writeFile(t, filepath.Join(tempDir, ".env.local"), tt.dotenv)

			env, err := ResolveEnvironment(&Config{ConfigFilePath: filepath.Join(tempDir, FileName)}, "local")
			if err != nil {
				t.Fatalf("ResolveEnvironment returned error: %v", err)
			}
			if env.DatabaseURL != tt.wantURL {
				t.Fatalf("Expected %q, got %q", tt.wantURL, env.DatabaseURL)
			}
		})
	}
}

func TestResolveEnvironmentProcessOverride(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, ".env.local"), "DATABASE_URL=postgres://dotenv\n")
	t.Setenv(EnvDatabaseURL, "postgres://process")
	t.Setenv(EnvPlan, "/abs/plan.json")

	env, err := ResolveEnvironment(&Config{ConfigFilePath: filepath.Join(tempDir, FileName)}, "local")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.DatabaseURL != "postgres://process" || !env.FromProcess {
		t.Fatalf("Expected process override, got %+v", env)
	}
	if env.PlanPath != "/abs/plan.json" {
		t.Fatalf("Expected absolute plan path kept, got %q", env.PlanPath)
	}
}

func TestResolveEnvironmentMissingDefinition(t *testing.T) {
	clearProcessOverrides(t)
	config := &Config{
		ConfigFilePath: filepath.Join(t.TempDir(), FileName),
		Environments: map[string]EnvironmentConfig{
			"local": {DatabaseURL: "postgres://local"},
		},
	}

	if _, err := ResolveEnvironment(config, "production"); err == nil {
		t.Fatal("Expected error resolving undefined environment, got nil")
	}
}

func TestResolveEnvironmentFindsDotenvInProjectRoot(t *testing.T) {
	clearProcessOverrides(t)
	projectDir := t.TempDir()
	writeFile(t, filepath.Join(projectDir, ".env.local"), "DATABASE_URL=postgres://root\n")

	config := &Config{
		ConfigFilePath: filepath.Join(projectDir, "db", FileName),
		projectDir:     projectDir,
	}
	env, err := ResolveEnvironment(config, "local")
	if err != nil {
		t.Fatalf("ResolveEnvironment returned error: %v", err)
	}
	if env.DatabaseURL != "postgres://root" {
		t.Fatalf("Expected project root dotenv, got %q", env.DatabaseURL)
	}
}
