package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name        string
	DatabaseURL string
	PlanPath    string
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
	FromProcess bool
}

// ResolveEnvironment resolves a named environment into a concrete database
// URL and plan path. Later sources win: lockstep.toml, then .env.<name>,
// then LOCKSTEP_DATABASE_URL / LOCKSTEP_PLAN from the process environment.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if config != nil && config.Environments != nil {
		envConfig, envExists = config.Environments[envName]
	}

	resolved := &ResolvedEnvironment{Name: envName, FromConfig: envExists}
	if config != nil {
		resolved.DatabaseURL = firstNonEmpty(envConfig.DatabaseURL, config.DatabaseURL)
		resolved.PlanPath = firstNonEmpty(envConfig.Plan, config.Plan)
	}

	resolved.DotenvPath = dotenvPath(config, ".env."+envName)
	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		if url := databaseURLFromDotenv(values); url != "" {
			resolved.DatabaseURL = url
		}
		if value := values["PLAN_PATH"]; value != "" {
			resolved.PlanPath = value
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	if value := String(EnvDatabaseURL, ""); value != "" {
		resolved.DatabaseURL = value
		resolved.FromProcess = true
	}
	if value := String(EnvPlan, ""); value != "" {
		resolved.PlanPath = value
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv && !resolved.FromProcess {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	if resolved.DatabaseURL == "" {
		resolved.DatabaseURL = defaultDatabaseURL
	}
	if resolved.PlanPath == "" {
		resolved.PlanPath = defaultPlanPath
	}
	resolved.PlanPath = resolvePath(resolved.PlanPath, config.ConfigDir())

	return resolved, nil
}

// databaseURLFromDotenv picks the connection string out of a .env file.
// DATABASE_URL wins over the database-specific variables.
func databaseURLFromDotenv(values map[string]string) string {
	if value := values["DATABASE_URL"]; value != "" {
		return value
	}
	if value := values["POSTGRES_URL"]; value != "" {
		return value
	}
	if value := values["SQLITE_DB_PATH"]; value != "" {
		return value
	}
	if value := values["LIBSQL_URL"]; value != "" {
		// Construct libSQL connection string with auth token if available
		if authToken := values["LIBSQL_AUTH_TOKEN"]; authToken != "" {
			return fmt.Sprintf("%s?authToken=%s", value, authToken)
		}
		return value
	}
	return ""
}

// dotenvPath looks next to lockstep.toml first, then in the project root.
func dotenvPath(config *Config, fileName string) string {
	baseDir := config.ConfigDir()
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	path := filepath.Join(baseDir, fileName)
	if _, err := os.Stat(path); err == nil {
		return path
	}
	if projectDir := config.ProjectDir(); projectDir != "" && projectDir != baseDir {
		altPath := filepath.Join(projectDir, fileName)
		if info, err := os.Stat(altPath); err == nil && !info.IsDir() {
			return altPath
		}
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
