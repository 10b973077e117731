package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockstep/internal/config"
	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/locks"
	"github.com/lockplane/lockstep/internal/migrate"
	"github.com/lockplane/lockstep/internal/prompt"
	"github.com/lockplane/lockstep/internal/report"
	"github.com/lockplane/lockstep/internal/state"
)

var (
	applyAutoApprove bool
	applyDryRun      bool
	applyFrom        string
)

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Apply without asking for confirmation")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show what would run and stop")
	applyCmd.Flags().StringVar(&applyFrom, "from", "", "Start from this state instead of the recorded one (empty string is the origin)")
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run the plan's pending transitions against the database",
	Long: `Run the plan's pending transitions against the database.

Scoped steps run inside one transaction, each behind its own savepoint.
Unscoped steps run on a separate connection and take effect immediately.
When a step fails, the steps before it are kept and the recorded state is
the last one reached, so the next apply continues from there.`,
	Example: `  # Apply the default environment's plan
  lockstep apply

  # Apply to staging without prompting
  lockstep apply --environment staging --auto-approve

  # See what would run
  lockstep apply --dry-run`,
	Args: cobra.NoArgs,
	Run:  runApply,
}

// errRunFailed means the run itself went wrong and has been reported.
var errRunFailed = errors.New("run failed")

func runApply(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := applyPlan(ctx, cmd.Flags().Changed("from")); err != nil {
		if !errors.Is(err, errRunFailed) {
			failf("%v", err)
		}
		os.Exit(1)
	}
}

func applyPlan(ctx context.Context, fromSet bool) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	loaded, err := sess.loadPlan()
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	plan := loaded.Plan

	db, err := sess.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = db.Close() }()

	if !applyDryRun {
		lock, err := locks.Acquire(ctx, locks.Target{DB: db, Type: sess.dbType, URL: sess.env.DatabaseURL}, "lockstep:"+plan.Name(), sess.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				warnf("%v", err)
			}
		}()
	}

	st, err := sess.openStates(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}
	from, _, err := st.current(ctx, plan.Name())
	if err != nil {
		return err
	}
	if fromSet {
		from = applyFrom
	}
	if !plan.Knows(from) {
		return fmt.Errorf("state %q is not part of plan %s", from, plan.Name())
	}

	pending := plan.Path(from)
	fmt.Fprintf(os.Stderr, "Plan %s is at %s\n", plan.Name(), stateLabel(from))
	if len(pending) == 0 {
		successf("Nothing to apply, %s is a final state", stateLabel(from))
		return nil
	}

	items := pendingItems(loaded, pending, sess.dbType)
	if applyDryRun || applyAutoApprove {
		fmt.Fprintf(os.Stderr, "\nPending transitions:\n%s\n", renderItems(items))
	}
	if applyDryRun {
		fmt.Fprintln(os.Stderr, "Dry run, nothing applied.")
		return nil
	}
	if !applyAutoApprove {
		ok, err := prompt.Confirm(fmt.Sprintf("Apply %s to %s", plan.Name(), sess.env.Name), items)
		if err != nil && !errors.Is(err, prompt.ErrCancelled) {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Apply cancelled.")
			return nil
		}
	}

	result, committed, err := execute(ctx, sess, db, st, loaded.Registry, plan, from)
	if err != nil {
		return err
	}

	saveReport(ctx, sess, &report.Report{
		Environment:  sess.env.Name,
		DatabaseType: string(sess.dbType),
		Database:     database.RedactURL(sess.env.DatabaseURL),
		Committed:    committed,
		Result:       result,
	})

	printResult(result, committed)
	if !result.Successful || !committed {
		return errRunFailed
	}
	return nil
}

// execute runs plan from the given state inside one transaction and
// records the state reached. Completed scoped steps are committed even
// when a later step fails. The error is only set when nothing ran.
func execute(ctx context.Context, sess *session, db *sql.DB, st *states, builder migrate.Builder, plan *migrate.Plan, from string) (*migrate.Result, bool, error) {
	opts, err := lockTimeoutOptions(sess.dbType, sess.cfg.LockTimeout)
	if err != nil {
		return nil, false, err
	}
	store, err := database.Begin(ctx, db, opts...)
	if err != nil {
		return nil, false, err
	}

	executor := migrate.NewExecutor(store, builder,
		migrate.WithLogger(sess.logger),
		migrate.WithPublisher(database.PublisherFor(sess.dbType, sess.logger)),
	)
	result, err := executor.Execute(ctx, plan, from)
	if err != nil {
		_ = store.Rollback()
		return nil, false, fmt.Errorf("failed to run plan: %w", err)
	}
	if n := result.NotificationsDropped; n > 0 {
		sess.logger.Debug("notifications dropped inside the transaction", "count", n)
	}

	entry := state.Entry{Plan: plan.Name(), State: result.FinalState, RunID: result.RunID, UpdatedAt: time.Now()}
	if st.table != nil {
		if err := st.table.Bind(store.Tx()).Save(ctx, entry); err != nil {
			_ = store.Rollback()
			failf("%v", err)
			return result, false, nil
		}
	}
	if err := store.Commit(); err != nil {
		failf("Failed to commit: %v", err)
		return result, false, nil
	}
	if st.file != nil {
		if err := st.file.Save(ctx, entry); err != nil {
			failf("%v", err)
			return result, false, nil
		}
		if err := st.file.RecordRun(plan.Name(), state.SummarizeRun(result)); err != nil {
			warnf("%v", err)
		}
	}
	return result, true, nil
}

func saveReport(ctx context.Context, sess *session, r *report.Report) {
	sinks := []report.Sink{report.FileSink{Dir: sess.cfg.ReportDir()}}
	if s3cfg, ok := s3Config(sess.cfg); ok {
		sink, err := report.NewS3Sink(s3cfg)
		if err != nil {
			warnf("Report upload disabled: %v", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	locations, err := report.PutAll(ctx, r, sinks...)
	for _, loc := range locations {
		fmt.Fprintf(os.Stderr, "Report: %s\n", loc)
	}
	if err != nil {
		warnf("Failed to store report: %v", err)
	}
}

func s3Config(cfg *config.Config) (report.S3Config, bool) {
	if cfg.Report.S3Bucket == "" {
		return report.S3Config{}, false
	}
	return report.S3Config{
		Endpoint:  cfg.Report.S3Endpoint,
		Bucket:    cfg.Report.S3Bucket,
		Prefix:    cfg.Report.S3Prefix,
		Region:    cfg.Report.S3Region,
		UseSSL:    cfg.Report.S3UseSSL,
		AccessKey: config.String(config.EnvReportS3AccessKey, ""),
		SecretKey: config.String(config.EnvReportS3SecretKey, ""),
	}, true
}

func printResult(result *migrate.Result, committed bool) {
	fmt.Fprintln(os.Stderr)
	for _, t := range result.CompletedTransitions {
		successf("%s", transitionLabel(t))
	}
	if t, ok := result.FailedTransition(); ok {
		failf("%s", transitionLabel(t))
	}

	switch {
	case result.Successful && committed:
		successf("Plan %s reached %s in %s", result.Plan, stateLabel(result.FinalState), result.Duration().Round(time.Millisecond))
	case committed:
		failf("Plan %s stopped at %s: %v", result.Plan, stateLabel(result.FinalState), result.Err)
		fmt.Fprintln(os.Stderr, "Completed steps were kept. Fix the failing step and run apply again.")
	default:
		failf("Plan %s was not recorded. Unscoped steps that completed have still taken effect.", result.Plan)
	}
}
