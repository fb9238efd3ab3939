package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/internal/inbox"
	"github.com/planion/planion/internal/notify"
	"github.com/planion/planion/internal/planner"
	"github.com/planion/planion/internal/queue"
	"github.com/planion/planion/internal/specialist"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the orchestration loop",
	Long: `Start the orchestration daemon.

The daemon watches the task store and the inbox directory, classifies and
decomposes new tasks, dispatches runnable work to the configured specialist
commands, and runs until interrupted. Specialists are configured in
~/.config/planion/config.yaml under specialists.commands.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	b := bus.New()
	cfg, s, cleanup, err := openStore(b)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := specialist.NewRegistry()
	for id, argv := range cfg.Specialists.Commands {
		registry.Register(id, specialist.NewCommandAdapter(argv))
	}
	if len(registry.Known()) == 0 {
		fmt.Println("warning: no specialist commands configured; dispatched tasks will fail")
	}

	notify.New().Attach(b)

	session := planner.NewSession()
	p := planner.New(s, queue.New(s), registry, cfg.Planner, session)
	p.Attach(b)

	if cfg.Inbox.Dir != "" {
		w, err := inbox.NewWatcher(cfg.Inbox.Dir, s)
		if err != nil {
			return fmt.Errorf("start inbox: %w", err)
		}
		defer w.Close()
		w.Start()
		log.Printf("[planion] watching inbox %s", cfg.Inbox.Dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	if n := b.DroppedCount(); n > 0 {
		log.Printf("[planion] %d events were dropped during this run", n)
	}
	fmt.Println("planion stopped")
	return nil
}
