// Package main is the entry point for the Foreman CLI
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/config"
	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/search"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "foreman",
		Short: "Carry tasks from design to verified code with AI agents",
		Long: `Foreman keeps a kanban board of tasks grouped into epics and PRDs, asks a
design agent for a step-by-step plan, runs the approved plan as a pipeline of
parallel and sequential agents, and verifies the result with lint, typecheck,
test, build and coverage checks before moving the task to review.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable verbose logging")

	rootCmd.AddCommand(
		initCmd(),
		prdCmd(),
		epicCmd(),
		taskCmd(),
		noteCmd(),
		teamCmd(),
		pipelineCmd(),
		designCmd(),
		implementCmd(),
		execCmd(),
		verifyCmd(),
		statusCmd(),
		searchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// findProjectDir locates the foreman project root by searching upward
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".foreman")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a foreman project (or any parent up to root); run foreman init")
		}
		dir = parent
	}
}

func databasePath(dir string) string {
	if os.Getenv("FOREMAN_DB_PATH") != "" {
		return cfg.DatabasePath
	}
	return filepath.Join(dir, ".foreman", "foreman.db")
}

// requireProject ensures we're in a foreman project directory
func requireProject() (string, *db.Store, error) {
	dir, err := findProjectDir()
	if err != nil {
		return "", nil, err
	}

	store, err := db.Open(databasePath(dir))
	if err != nil {
		return "", nil, fmt.Errorf("opening database: %w", err)
	}
	if err := initSchema(store); err != nil {
		store.Close()
		return "", nil, err
	}

	return dir, store, nil
}

// initSchema creates the board tables and the search index over them
func initSchema(store *db.Store) error {
	if err := store.InitSchema(); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	if err := search.New(store).InitSchema(); err != nil {
		return fmt.Errorf("initializing search index: %w", err)
	}
	return nil
}
