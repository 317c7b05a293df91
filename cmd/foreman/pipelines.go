package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/foreman/internal/display"
	"github.com/cloud-shuttle/foreman/internal/pipeline"
)

func pipelineCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "pipeline",
		Short: "Define and run agent pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	command.AddCommand(pipelineCreateCmd(), pipelineRunCmd(), pipelineListCmd(), pipelineRunsCmd())
	return command
}

func pipelineCreateCmd() *cobra.Command {
	var taskID string

	command := &cobra.Command{
		Use:   "create <file.yaml>",
		Short: "Create a pipeline from a YAML definition",
		Long: `Create a pipeline from a YAML definition:

  name: login
  steps:
    - parallel: true
      agents:
        - type: frontend
          model: haiku
          prompt: Build the form
        - type: backend
          model: sonnet
          prompt: Add the endpoint`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			def, err := pipeline.LoadPipelineFile(args[0])
			if err != nil {
				return err
			}
			if taskID == "" {
				taskID = def.TaskID
			}

			p, err := store.CreatePipeline(def.Name, taskID, def.Steps)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created pipeline %s: %s (%d steps)\n", p.ID, p.Name, len(p.Steps))
			return nil
		},
	}
	command.Flags().StringVar(&taskID, "task", "", "Task the pipeline belongs to")
	return command
}

func pipelineRunCmd() *cobra.Command {
	var (
		simulate bool
		dir      string
		teamID   string
	)

	command := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Execute a pipeline and wait for it to finish",
		Long: `Execute a pipeline and wait for it to finish.

With --simulate no agents are spawned; each agent sleeps for its model's
simulated delay instead. Interrupting the command cancels the execution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stopFollow := a.follow("")
			exec, err := a.engine.ExecutePipeline(context.Background(), pipeline.ExecuteRequest{
				PipelineID:  args[0],
				WorkingPath: a.workDir(dir),
				Simulate:    simulate,
				TeamID:      teamID,
			})
			if err != nil {
				stopFollow()
				return err
			}
			fmt.Printf("🚀 Started execution %s (%d steps)\n", exec.ID, exec.TotalSteps)

			stopSignals := onInterrupt(func() { a.engine.CancelExecution(exec.ID) })
			<-a.engine.Done(exec.ID)
			stopSignals()
			stopFollow()

			final, err := a.store.GetExecution(exec.ID)
			if err != nil {
				return err
			}
			fmt.Print(display.Execution(final))
			if final.Error != "" {
				return fmt.Errorf("execution %s %s", final.ID, final.Status)
			}
			return nil
		},
	}
	command.Flags().BoolVar(&simulate, "simulate", false, "Simulate agents instead of spawning them")
	command.Flags().StringVar(&dir, "dir", "", "Working copy for the agents (default: project root)")
	command.Flags().StringVar(&teamID, "team", "", "Team whose personas apply")
	return command
}

func pipelineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			pipelines, err := store.ListPipelines()
			if err != nil {
				return err
			}
			if len(pipelines) == 0 {
				fmt.Println("No pipelines.")
				return nil
			}
			for _, p := range pipelines {
				task := ""
				if p.TaskID != "" {
					task = " task=" + p.TaskID
				}
				fmt.Printf("%s  %-8s %s (%d steps)%s\n", p.ID, p.Status, p.Name, len(p.Steps), task)
			}
			return nil
		},
	}
}

func pipelineRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <pipeline-id>",
		Short: "List the executions of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := requireProject()
			if err != nil {
				return err
			}
			defer store.Close()

			execs, err := store.ListExecutions(args[0])
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Println("No executions.")
				return nil
			}
			for _, e := range execs {
				fmt.Print(display.Execution(e))
			}
			return nil
		},
	}
}
