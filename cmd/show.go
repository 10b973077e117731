package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/lockplane/lockstep/internal/database"
	"github.com/lockplane/lockstep/internal/planfile"
)

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showDBType, "database-type", "", "postgres, sqlite or libsql (default: detected from the environment's database URL)")
}

var showDBType string

var showCmd = &cobra.Command{
	Use:   "show [plan]",
	Short: "Print the plan's transitions in order",
	Long: `Print the plan's transitions in order, with each step's description
and, for PostgreSQL, the strongest table lock it takes.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runShow,
}

func runShow(cmd *cobra.Command, args []string) {
	sess, err := newSession()
	if err != nil {
		log.Fatalf("%v", err)
	}
	path := sess.env.PlanPath
	if len(args) > 0 {
		path = args[0]
	}
	dbType := sess.dbType
	if showDBType != "" {
		dbType = database.DatabaseType(showDBType)
	}

	loaded, err := planfile.Load(path, dbType)
	if err != nil {
		log.Fatalf("Failed to load plan: %v", err)
	}
	fmt.Printf("Plan %s (%s)\n\n", loaded.Plan.Name(), path)
	fmt.Print(renderChain(loaded, nil, dbType))
}
