// Command monitor shows transfer sessions as the backend reports them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunk-relay/backend/config"
	"chunk-relay/cmd/monitor/ui"
	"chunk-relay/queue"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

func main() {
	path := flag.String("config", "config.yaml", "Path to the backend config file")
	wait := flag.Duration("wait", 2*time.Second, "Result receive wait")
	flag.Parse()

	if err := run(*path, *wait); err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}
}

func run(path string, wait time.Duration) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cfg.Queue.Kind != "redis" && cfg.Queue.Kind != "" {
		return fmt.Errorf("queue kind %q cannot fan out results; the monitor needs redis", cfg.Queue.Kind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := cfg.Queue.Redis
	rc.Group = "monitor-" + uuid.NewString()
	rc.Consumer = rc.Group
	transport, err := queue.OpenRedis(ctx, rc, cfg.Queue.LockDuration)
	if err != nil {
		return err
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = transport.DropGroup(cleanup, queue.TopicResults)
		_ = transport.Close()
	}()

	p := tea.NewProgram(ui.NewRootModel(ui.NewFeed(ctx, transport, wait)), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
