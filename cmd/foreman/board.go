package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/display"
	"github.com/cloud-shuttle/foreman/internal/project"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize Foreman in the current project",
		Long: `Initialize Foreman in the current project.

Creates a .foreman directory holding the SQLite board database and a
.foreman.toml with project guidelines and verification overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			foremanDir := filepath.Join(dir, ".foreman")
			if _, err := os.Stat(foremanDir); err == nil {
				return fmt.Errorf("already initialized in %s", foremanDir)
			}
			if err := os.MkdirAll(foremanDir, 0755); err != nil {
				return fmt.Errorf("creating .foreman directory: %w", err)
			}

			store, err := db.Open(databasePath(dir))
			if err != nil {
				return fmt.Errorf("creating database: %w", err)
			}
			defer store.Close()

			if err := initSchema(store); err != nil {
				return err
			}

			if _, err := os.Stat(filepath.Join(dir, project.FileName)); os.IsNotExist(err) {
				projCfg := project.DefaultConfig()
				projCfg.SetPath(dir)
				if err := projCfg.Save(); err != nil {
					return fmt.Errorf("writing %s: %w", project.FileName, err)
				}
			}

			fmt.Printf("🏗️  Initialized Foreman in %s\n", foremanDir)
			fmt.Println("\nNext steps:")
			fmt.Println("  foreman epic add \"My Epic\" --scope \"what belongs here\"")
			fmt.Println("  foreman task add \"My first task\" --epic <epic-id> --prompt \"...\"")
			fmt.Println("  foreman design run <task-id>")
			return nil
		},
	}
}

func prdCmd() *cobra.Command {
	var (
		vision      string
		criteria    []string
		constraints []string
	)

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a product requirements document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			prd, err := store.CreatePRD(args[0], vision, criteria, constraints)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created PRD %s: %s\n", prd.ID, prd.Title)
			return nil
		},
	}
	add.Flags().StringVar(&vision, "vision", "", "Product vision")
	add.Flags().StringArrayVar(&criteria, "criteria", nil, "Success criterion (repeatable)")
	add.Flags().StringArrayVar(&constraints, "constraint", nil, "Constraint (repeatable)")

	command := &cobra.Command{
		Use:   "prd",
		Short: "Manage product requirement documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(add)
	return command
}

func epicCmd() *cobra.Command {
	var desc, scope, prdID string

	epicAdd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a new epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			epic, err := store.CreateEpic(args[0], desc, scope, prdID)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created epic %s: %s\n", epic.ID, epic.Title)
			return nil
		},
	}
	epicAdd.Flags().StringVarP(&desc, "description", "d", "", "Epic description")
	epicAdd.Flags().StringVar(&scope, "scope", "", "What belongs to this epic")
	epicAdd.Flags().StringVar(&prdID, "prd", "", "PRD this epic serves")

	epicList := &cobra.Command{
		Use:   "list",
		Short: "List epics with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			epics, err := store.ListEpics()
			if err != nil {
				return err
			}
			if len(epics) == 0 {
				fmt.Println("No epics.")
				return nil
			}
			for _, e := range epics {
				fmt.Println(display.Epic(e))
			}
			return nil
		},
	}

	command := &cobra.Command{
		Use:   "epic",
		Short: "Manage epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(epicAdd, epicList)
	return command
}

func taskCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks on the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(taskAddCmd(), taskListCmd(), taskShowCmd(), taskMoveCmd())
	return command
}

func taskAddCmd() *cobra.Command {
	var in db.TaskInput
	var status string

	command := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			in.Title = args[0]
			in.Status = types.TaskStatus(status)
			task, err := store.CreateTask(in)
			if err != nil {
				return err
			}

			fmt.Printf("✅ Created task %s: %s\n", task.ID, task.Title)
			return nil
		},
	}
	command.Flags().StringVarP(&in.Description, "description", "d", "", "Task description")
	command.Flags().StringVarP(&in.WorkPrompt, "prompt", "p", "", "Work prompt given to agents")
	command.Flags().StringVar(&in.EpicID, "epic", "", "Epic the task belongs to")
	command.Flags().StringVar(&in.TeamID, "team", "", "Team whose personas apply")
	command.Flags().StringVar(&in.BranchName, "branch", "", "Git branch for the work")
	command.Flags().StringVar(&status, "status", "", "Initial status (default backlog)")
	return command
}

func taskListCmd() *cobra.Command {
	var status, epicID string

	command := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			var tasks []*types.Task
			if epicID != "" {
				tasks, err = store.ListTasksByEpic(epicID)
			} else {
				tasks, err = store.ListTasks(types.TaskStatus(status))
			}
			if err != nil {
				return err
			}

			if len(tasks) == 0 {
				fmt.Println("No tasks.")
				return nil
			}
			for _, t := range tasks {
				if status != "" && t.Status != types.TaskStatus(status) {
					continue
				}
				fmt.Println(display.Task(t))
			}
			return nil
		},
	}
	command.Flags().StringVar(&status, "status", "", "Only tasks in this status")
	command.Flags().StringVar(&epicID, "epic", "", "Only tasks of this epic")
	return command
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its design, verification, commits and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			task, err := store.GetTask(args[0])
			if err != nil {
				return err
			}

			fmt.Print(display.TaskDetails(task))
			if task.DesignResult != nil {
				fmt.Println("\n── Design ──")
				fmt.Print(display.Design(task.DesignResult))
			}
			if task.VerificationResult != nil {
				fmt.Println("\n── Verification ──")
				fmt.Print(display.Verification(task.VerificationResult))
			}

			commits, err := store.ListTaskCommits(task.ID)
			if err != nil {
				return err
			}
			if len(commits) > 0 {
				fmt.Println("\n── Commits ──")
				for _, c := range commits {
					fmt.Printf("  %.8s %s (%s)\n", c.Hash, c.Subject, c.Author)
				}
			}

			logs, err := store.ListExecutionLogs(task.ID)
			if err != nil {
				return err
			}
			if len(logs) > 0 {
				fmt.Println("\n── Runs ──")
				for _, l := range logs {
					fmt.Printf("  %-14s %-9s %6dms %s\n", l.Phase, l.Status, l.DurationMS, l.Error)
				}
			}
			return nil
		},
	}
}

func taskMoveCmd() *cobra.Command {
	var position int

	command := &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to a board column",
		Long: `Move a task to a board column.

Moving straight from implementation to review is rejected; the task has to
pass verification first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			status := types.TaskStatus(args[1])
			if position < 0 {
				if position, err = store.CountTasksByStatus(status); err != nil {
					return err
				}
			}

			task, err := store.MoveTask(args[0], status, position)
			if err != nil {
				return err
			}
			fmt.Printf("➡️  %s is now %s at position %d\n", task.ID, task.Status, task.Position)
			return nil
		},
	}
	command.Flags().IntVar(&position, "position", -1, "Position in the column (default: end)")
	return command
}

func noteCmd() *cobra.Command {
	add := &cobra.Command{
		Use:   "add <path> <content>",
		Short: "Attach a note to a working copy path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			note, err := store.CreateProjectNote(path, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("📝 Added note %s for %s\n", note.ID, note.Path)
			return nil
		},
	}

	command := &cobra.Command{
		Use:   "note",
		Short: "Manage project notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(add)
	return command
}

func teamCmd() *cobra.Command {
	var model, system, contextPrompt string

	addAgent := &cobra.Command{
		Use:   "add-agent <team-id> <agent-type>",
		Short: "Add an agent persona to a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			var persona *types.Persona
			if system != "" || contextPrompt != "" {
				persona = &types.Persona{SystemPrompt: system, ContextPrompt: contextPrompt}
			}
			agent, err := store.AddTeamAgent(args[0], args[1], types.Model(model), persona)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Added %s agent %s to team %s\n", agent.AgentType, agent.ID, agent.TeamID)
			return nil
		},
	}
	addAgent.Flags().StringVar(&model, "model", "", "Preferred model tier")
	addAgent.Flags().StringVar(&system, "system", "", "Persona system prompt")
	addAgent.Flags().StringVar(&contextPrompt, "context", "", "Persona context prompt")

	command := &cobra.Command{
		Use:   "team",
		Short: "Manage agent teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(addAgent)
	return command
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show board status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := store.GetBoardStatus()
			if err != nil {
				return err
			}
			fmt.Print(display.Board(status))

			done := status.ByStatus[types.TaskStatusDone]
			if status.Total > 0 {
				progress := float64(done) / float64(status.Total) * 100
				printProgressBar(progress)
			}

			epics, err := store.ListEpics()
			if err != nil {
				return err
			}
			if len(epics) > 0 {
				fmt.Println("\nEpics:")
				for _, e := range epics {
					fmt.Println("  " + display.Epic(e))
				}
			}
			return nil
		},
	}
}

func printProgressBar(percent float64) {
	width := 40
	filled := int(percent / 100 * float64(width))

	fmt.Print("[")
	for i := 0; i < width; i++ {
		if i < filled {
			fmt.Print("█")
		} else {
			fmt.Print("░")
		}
	}
	fmt.Printf("] %s%%\n", strconv.FormatFloat(percent, 'f', 1, 64))
}
