package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/display"
	"github.com/cloud-shuttle/foreman/internal/tui"
	"github.com/cloud-shuttle/foreman/internal/verify"
	"github.com/cloud-shuttle/foreman/pkg/types"
)

// waitForTask blocks until the driver's background work for a task ends,
// cancelling it on the first interrupt
func (a *app) waitForTask(taskID string) {
	stopSignals := onInterrupt(func() {
		if _, err := a.driver.CancelTaskExecution(taskID); err != nil {
			fmt.Printf("⚠️  cancel failed: %v\n", err)
		}
	})
	a.driver.Wait()
	stopSignals()
}

func designCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "design",
		Short: "Plan a task with the design agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(designRunCmd(), designShowCmd(), designApproveCmd(), designSplitCmd(), designReviewCmd())
	return command
}

func designRunCmd() *cobra.Command {
	var dir, extra string

	command := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Ask the design agent for a step-by-step plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stopFollow := a.follow(args[0])
			if _, err := a.driver.RunDesign(context.Background(), args[0], a.workDir(dir), extra); err != nil {
				stopFollow()
				return err
			}
			a.waitForTask(args[0])
			stopFollow()

			task, err := a.store.GetTask(args[0])
			if err != nil {
				return err
			}
			if task.DesignStatus != types.ProcessCompleted {
				return fmt.Errorf("design for %s %s", task.ID, task.DesignStatus)
			}
			fmt.Print(display.Design(task.DesignResult))
			fmt.Printf("\nApprove with: foreman design approve %s\n", task.ID)
			return nil
		},
	}
	command.Flags().StringVar(&dir, "dir", "", "Working copy the plan is for (default: project root)")
	command.Flags().StringVar(&extra, "extra", "", "Additional instructions for the agent")
	return command
}

func designShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the stored design of a task",
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
			fmt.Print(display.Design(task.DesignResult))
			return nil
		},
	}
}

func designApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Turn the task's design into a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.driver.ApproveDesign(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✅ Pipeline %s ready with %d steps\n", p.ID, len(p.Steps))
			fmt.Printf("Implement with: foreman implement %s\n", args[0])
			return nil
		},
	}
}

func designSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split <task-id>",
		Short: "Accept the proposed scope split into a new epic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			epic, task, err := a.driver.AcceptScopeSplit(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("✂️  Created epic %s: %s\n", epic.ID, epic.Title)
			fmt.Printf("   with backlog task %s: %s\n", task.ID, task.Title)
			return nil
		},
	}
}

func designReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Interactively review, split and approve finished designs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.ListTasks("")
			if err != nil {
				return err
			}
			return tui.Run(tui.NewDesignReview(tui.PendingReview(tasks), a.driver, a.store))
		},
	}
}

func implementCmd() *cobra.Command {
	var dir string

	command := &cobra.Command{
		Use:   "implement <task-id>",
		Short: "Run the approved pipeline with real agents, then verify",
		Long: `Run the task's approved pipeline with real agents.

When the execution completes the task's commits are recorded and
verification runs; passing verification moves the task to review.
Interrupting the command cancels the execution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stopFollow := a.follow(args[0])
			exec, err := a.driver.RunImplementation(context.Background(), args[0], a.workDir(dir))
			if err != nil {
				stopFollow()
				return err
			}
			fmt.Printf("🚀 Started execution %s (%d steps)\n", exec.ID, exec.TotalSteps)
			a.waitForTask(args[0])
			stopFollow()

			final, err := a.store.GetExecution(exec.ID)
			if err != nil {
				return err
			}
			fmt.Print(display.Execution(final))

			task, err := a.store.GetTask(args[0])
			if err != nil {
				return err
			}
			if task.VerificationResult != nil {
				fmt.Print(display.Verification(task.VerificationResult))
			}
			fmt.Println(display.Task(task))
			return nil
		},
	}
	command.Flags().StringVar(&dir, "dir", "", "Working copy for the agents (default: project root)")
	return command
}

func execCmd() *cobra.Command {
	var dir, extra string

	command := &cobra.Command{
		Use:   "exec <task-id>",
		Short: "Run a single agent on the task's prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stopFollow := a.follow(args[0])
			h, err := a.driver.ExecuteTask(context.Background(), args[0], a.workDir(dir), extra)
			if err != nil {
				stopFollow()
				return err
			}
			if cfg.Verbose {
				fmt.Printf("correlation %s\n", h.CorrelationID)
			}
			a.waitForTask(args[0])
			stopFollow()

			task, err := a.store.GetTask(args[0])
			if err != nil {
				return err
			}
			if task.ExecutionStatus != types.ProcessCompleted {
				return fmt.Errorf("execution of %s %s", task.ID, task.ExecutionStatus)
			}
			return nil
		},
	}
	command.Flags().StringVar(&dir, "dir", "", "Working copy for the agent (default: project root)")
	command.Flags().StringVar(&extra, "extra", "", "Additional instructions for the agent")
	return command
}

func verifyCmd() *cobra.Command {
	var (
		dir           string
		checks        []string
		threshold     float64
		skipOnFailure bool
	)

	command := &cobra.Command{
		Use:   "verify <task-id>",
		Short: "Run verification checks for a task",
		Long: `Run verification checks for a task.

Checks run in the order lint, typecheck, test, build, coverage. Commands are
detected from the working copy (package.json, go.mod, Cargo.toml,
pyproject.toml) unless .foreman.toml overrides them. A passing run moves the
task to review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			selected, err := verify.ParseChecks(checks)
			if err != nil {
				return err
			}

			stopFollow := a.follow(args[0])
			result, err := a.verifier.RunVerification(context.Background(), args[0], a.workDir(dir), verify.Options{
				Checks:            selected,
				CoverageThreshold: threshold,
				SkipOnFailure:     skipOnFailure,
			})
			stopFollow()
			return reportVerification(result, err)
		},
	}
	command.Flags().StringVar(&dir, "dir", "", "Working copy to verify (default: project root)")
	command.Flags().StringSliceVar(&checks, "checks", nil, "Checks to run (default: all)")
	command.Flags().Float64Var(&threshold, "threshold", 0, "Coverage threshold percent")
	command.Flags().BoolVar(&skipOnFailure, "skip-on-failure", false, "Stop at the first failing check")

	command.AddCommand(verifyRetryCmd())
	return command
}

func verifyRetryCmd() *cobra.Command {
	var (
		dir           string
		failedOnly    bool
		threshold     float64
		skipOnFailure bool
	)

	command := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Re-run verification, optionally only the checks that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stopFollow := a.follow(args[0])
			result, err := a.verifier.RetryVerification(context.Background(), args[0], a.workDir(dir), verify.RetryOptions{
				FailedOnly:        failedOnly,
				CoverageThreshold: threshold,
				SkipOnFailure:     skipOnFailure,
			})
			stopFollow()
			return reportVerification(result, err)
		},
	}
	command.Flags().StringVar(&dir, "dir", "", "Working copy to verify (default: project root)")
	command.Flags().BoolVar(&failedOnly, "failed-only", false, "Only re-run the checks that failed last time")
	command.Flags().Float64Var(&threshold, "threshold", 0, "Coverage threshold percent")
	command.Flags().BoolVar(&skipOnFailure, "skip-on-failure", false, "Stop at the first failing check")
	return command
}

func reportVerification(result *types.VerificationResult, err error) error {
	if result != nil {
		fmt.Print(display.Verification(result))
	}
	if err != nil {
		return err
	}
	if !result.OverallPass {
		return fmt.Errorf("verification failed: %v", result.FailedChecks())
	}
	fmt.Println("✅ Task moved to review")
	return nil
}
