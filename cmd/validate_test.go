package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/lockplane/lockstep/internal/planfile"
)

func TestValidateCommand(t *testing.T) {
	if validateCmd == nil {
		t.Fatal("validateCmd should not be nil")
	}

	if validateCmd.Use != "validate [plan]" {
		t.Errorf("expected Use to be 'validate [plan]', got %q", validateCmd.Use)
	}

	if validateCmd.Short == "" {
		t.Error("validateCmd.Short should not be empty")
	}

	if validateCmd.Long == "" {
		t.Error("validateCmd.Long should not be empty")
	}

	if validateCmd.Example == "" {
		t.Error("validateCmd.Example should not be empty")
	}

	for _, name := range []string{"format", "database-type"} {
		if validateCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s", name)
		}
	}
}

func TestHasErrors(t *testing.T) {
	warning := planfile.Issue{Severity: planfile.SeverityWarning, Message: "long-held lock"}
	failure := planfile.Issue{Severity: planfile.SeverityError, Message: "unknown step"}

	if hasErrors(nil) {
		t.Error("no issues should not be an error")
	}
	if hasErrors([]planfile.Issue{warning}) {
		t.Error("warnings alone should not fail validation")
	}
	if !hasErrors([]planfile.Issue{warning, failure}) {
		t.Error("expected an error issue to fail validation")
	}
}

func TestWriteValidationJSON(t *testing.T) {
	var buf bytes.Buffer
	result := validationResult{
		Valid: false,
		Issues: []planfile.Issue{{
			File:     "plan.toml",
			Step:     "index-users",
			Severity: planfile.SeverityError,
			Message:  "CREATE INDEX CONCURRENTLY (statement 1) cannot run inside a transaction",
			Code:     "needs-unscoped",
		}},
	}
	if err := writeValidationJSON(&buf, result); err != nil {
		t.Fatalf("writeValidationJSON returned error: %v", err)
	}

	var decoded struct {
		Valid  bool `json:"valid"`
		Issues []struct {
			File     string `json:"file"`
			Step     string `json:"step"`
			Severity string `json:"severity"`
			Code     string `json:"code"`
		} `json:"issues"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Valid {
		t.Error("expected valid=false")
	}
	if len(decoded.Issues) != 1 || decoded.Issues[0].Code != "needs-unscoped" || decoded.Issues[0].Step != "index-users" {
		t.Errorf("unexpected issues %+v", decoded.Issues)
	}
}
