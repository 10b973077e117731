package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockstep/internal/database"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded state of the plan and what is pending",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess, err := newSession()
	if err != nil {
		log.Fatalf("%v", err)
	}
	loaded, err := sess.loadPlan()
	if err != nil {
		log.Fatalf("Failed to load plan: %v", err)
	}
	plan := loaded.Plan

	db, err := sess.connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer func() { _ = db.Close() }()

	st, err := sess.openStates(ctx, db)
	if err != nil {
		log.Fatalf("Failed to open state: %v", err)
	}
	current, entry, err := st.current(ctx, plan.Name())
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("Environment: %s\n", sess.env.Name)
	fmt.Printf("Database:    %s\n", database.RedactURL(sess.env.DatabaseURL))
	fmt.Printf("Plan:        %s (%s)\n", plan.Name(), sess.env.PlanPath)
	fmt.Printf("State:       %s\n", stateLabel(current))
	if entry != nil {
		fmt.Printf("Updated:     %s (run %s)\n", entry.UpdatedAt.Local().Format(time.RFC3339), entry.RunID)
	}
	if st.file != nil {
		if last, err := st.file.LastRun(plan.Name()); err == nil && last != nil && !last.Successful {
			fmt.Printf("Last run:    failed at %s: %s\n", stateLabel(last.FinalState), last.Error)
		}
	}
	fmt.Println()

	if !plan.Knows(current) {
		warnf("Recorded state %q is not part of this plan", current)
		return
	}
	pending := plan.Path(current)
	if len(pending) == 0 {
		successf("Up to date")
		return
	}
	fmt.Print(renderChain(loaded, &current, sess.dbType))
	fmt.Printf("\n%d pending\n", len(pending))
}
