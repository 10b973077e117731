package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/planfile"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan]",
	Short: "Validate a plan file without touching the database",
	Long: `Validate a plan file without touching the database.

The file is checked against the plan file schema, every step's SQL is
parsed, and the transitions must form chains that end in a final state.
Warnings point at steps that are legal but risky, such as scoped steps
that hold strong table locks until the run commits.`,
	Example: `  # Validate the environment's plan
  lockstep validate

  # Validate a file for SQLite
  lockstep validate --database-type sqlite migrations/plan.yaml

  # JSON output for editors and CI
  lockstep validate --format json migrations/plan.toml`,
	Args: cobra.MaximumNArgs(1),
	Run:  runValidate,
}

var (
	validateFormat string
	validateDBType string
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateFormat, "format", "text", "Output format: text or json")
	validateCmd.Flags().StringVar(&validateDBType, "database-type", "", "postgres, sqlite or libsql (default: detected from the environment's database URL)")
}

// validationResult is the JSON output of validate.
type validationResult struct {
	Valid  bool             `json:"valid"`
	Issues []planfile.Issue `json:"issues"`
}

func runValidate(cmd *cobra.Command, args []string) {
	if validateFormat != "text" && validateFormat != "json" {
		log.Fatalf("Unknown format %q (want text or json)", validateFormat)
	}

	sess, err := newSession()
	if err != nil {
		log.Fatalf("%v", err)
	}
	path := sess.env.PlanPath
	if len(args) > 0 {
		path = args[0]
	}
	dbType := sess.dbType
	if validateDBType != "" {
		dbType = database.DatabaseType(validateDBType)
	}

	_, issues := planfile.Check(path, dbType)
	result := validationResult{Valid: !hasErrors(issues), Issues: issues}
	if result.Issues == nil {
		result.Issues = []planfile.Issue{}
	}

	if validateFormat == "json" {
		if err := writeValidationJSON(os.Stdout, result); err != nil {
			log.Fatalf("%v", err)
		}
	} else {
		printValidationText(path, result)
	}
	if !result.Valid {
		os.Exit(1)
	}
}

func hasErrors(issues []planfile.Issue) bool {
	for _, issue := range issues {
		if issue.Severity == planfile.SeverityError {
			return true
		}
	}
	return false
}

func writeValidationJSON(w io.Writer, result validationResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printValidationText(path string, result validationResult) {
	for _, issue := range result.Issues {
		if issue.Severity == planfile.SeverityError {
			failf("%s", issue)
		} else {
			warnf("%s", issue)
		}
	}
	if result.Valid {
		successf("Plan is valid: %s", path)
		return
	}
	fmt.Fprintf(os.Stderr, "\nPlan validation failed: %s\n", path)
}
