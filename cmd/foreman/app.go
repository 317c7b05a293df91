package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cloud-shuttle/foreman/internal/db"
	"github.com/cloud-shuttle/foreman/internal/events"
	"github.com/cloud-shuttle/foreman/internal/executor"
	"github.com/cloud-shuttle/foreman/internal/git"
	"github.com/cloud-shuttle/foreman/internal/notify"
	"github.com/cloud-shuttle/foreman/internal/pipeline"
	"github.com/cloud-shuttle/foreman/internal/project"
	"github.com/cloud-shuttle/foreman/internal/prompt"
	"github.com/cloud-shuttle/foreman/internal/verify"
	"github.com/cloud-shuttle/foreman/internal/webhooks"
	"github.com/cloud-shuttle/foreman/internal/workflow"
)

// app wires the store, agent runtime, engine, verifier and driver for one
// CLI invocation
type app struct {
	dir      string
	store    *db.Store
	project  *project.Config
	bus      *events.Bus
	runtime  *executor.Runtime
	engine   *pipeline.Engine
	verifier *verify.Runner
	driver   *workflow.Driver
	webhooks *webhooks.Forwarder
}

func openApp() (*app, error) {
	dir, store, err := requireProject()
	if err != nil {
		return nil, err
	}

	projCfg, err := project.Load(dir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	bus := events.NewBus()
	notifier := notify.NewBusNotifier(bus)

	runtime := executor.NewRuntime(cfg.AgentPath)
	runtime.SetVerbose(cfg.Verbose)

	engine := pipeline.NewEngine(store, runtime, notifier, pipeline.Options{
		MaxConcurrentAgents: cfg.MaxConcurrentAgents,
		ModelTimeouts:       cfg.ModelTimeouts,
		SimulateDelays:      cfg.SimulateDelays,
	})
	engine.SetVerbose(cfg.Verbose)

	verifier := verify.NewRunner(store, notifier)
	verifier.SetVerbose(cfg.Verbose)
	verifier.SetCheckTimeout(cfg.CheckTimeout)
	verifier.SetCoverageThreshold(cfg.CoverageThreshold)
	if projCfg.CoverageThreshold > 0 {
		verifier.SetCoverageThreshold(projCfg.CoverageThreshold)
	}
	if len(projCfg.Checks) > 0 {
		checks, err := verify.ParseChecks(projCfg.Checks)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("%s checks: %w", project.FileName, err)
		}
		if err := verifier.SetDefaultChecks(checks); err != nil {
			store.Close()
			return nil, err
		}
	}
	verifier.SetCommandOverrides(projCfg.Verification.Commands)

	assembler := prompt.NewAssembler(store)
	assembler.SetGuidelines(projCfg.GetGuidelines())

	scanner := git.NewCommitScanner()
	scanner.SetVerbose(cfg.Verbose)

	driver := workflow.NewDriver(store, workflow.Deps{
		Assembler: assembler,
		Agent:     runtime,
		Engine:    engine,
		Verifier:  verifier,
		Commits:   scanner,
		Notifier:  notifier,
	}, workflow.Options{
		DesignModel:           cfg.DesignModel,
		ExecuteModel:          cfg.ExecuteModel,
		TaskTimeout:           cfg.TaskTimeout,
		PollInterval:          cfg.PollInterval,
		ImplementationTimeout: cfg.ImplementationTimeout,
	})
	driver.SetVerbose(cfg.Verbose)

	var forwarder *webhooks.Forwarder
	if len(projCfg.Webhooks) > 0 {
		forwarder, err = webhooks.NewForwarder(webhookConfig(projCfg.Webhooks))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("%s webhooks: %w", project.FileName, err)
		}
		forwarder.SetVerbose(cfg.Verbose)
		forwarder.Start(bus, 2)
	}

	return &app{
		dir:      dir,
		store:    store,
		project:  projCfg,
		bus:      bus,
		runtime:  runtime,
		engine:   engine,
		verifier: verifier,
		driver:   driver,
		webhooks: forwarder,
	}, nil
}

func webhookConfig(in []project.Webhook) []webhooks.Webhook {
	out := make([]webhooks.Webhook, 0, len(in))
	for _, w := range in {
		hook := webhooks.Webhook{ID: w.ID, URL: w.URL, Secret: w.Secret, Headers: w.Headers}
		for _, e := range w.Events {
			hook.Events = append(hook.Events, events.EventType(e))
		}
		out = append(out, hook)
	}
	return out
}

func (a *app) Close() {
	if a.webhooks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.webhooks.Stop(ctx); err != nil {
			fmt.Printf("⚠️  %v\n", err)
		}
		cancel()
	}
	a.bus.Close()
	a.store.Close()
}

// workDir resolves the working copy path for a command
func (a *app) workDir(flag string) string {
	if flag == "" {
		return a.dir
	}
	if abs, err := filepath.Abs(flag); err == nil {
		return abs
	}
	return flag
}

// follow prints bus events for a task (or every event when taskID is
// empty) until the returned stop function is called
func (a *app) follow(taskID string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ch := events.NewStreamer(a.bus, events.EventFilter{TaskID: taskID}).Start(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			printEvent(ev)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func printEvent(ev *events.Event) {
	switch ev.Type {
	case events.EventTaskStreamChunk:
		if chunk, ok := ev.Data["chunk"].(string); ok {
			fmt.Print(chunk)
			if !strings.HasSuffix(chunk, "\n") {
				fmt.Println()
			}
		}
	case events.EventDesignProgress:
		if msg, ok := ev.Data["message"].(string); ok {
			fmt.Printf("📐 %s\n", msg)
		}
	default:
		if cfg.Verbose {
			fmt.Println(events.FormatEventCompact(ev))
		}
	}
}

// onInterrupt runs stop on the first SIGINT/SIGTERM. The returned function
// stops listening.
func onInterrupt(stop func()) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n🛑 Interrupt received, cancelling...")
			stop()
		case <-done:
		}
		signal.Stop(sigCh)
	}()

	return func() { close(done) }
}
