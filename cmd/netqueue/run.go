package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/netqueue/internal/events"
	"github.com/aristath/netqueue/internal/manifest"
	"github.com/aristath/netqueue/internal/persistence"
	"github.com/aristath/netqueue/internal/request"
	"github.com/aristath/netqueue/internal/scheduler"
	"github.com/aristath/netqueue/internal/transport"
	"github.com/aristath/netqueue/internal/tui"
)

func newRunCmd(a *app) *cobra.Command {
	var tokenEnv string

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Send every request in a manifest and wait for the outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], tokenEnv)
		},
	}
	cmd.Flags().BoolVar(&a.flagTUI, "tui", false, "Show the live dashboard")
	cmd.Flags().StringVar(&tokenEnv, "token-env", "", "Environment variable holding a bearer token, read before every attempt")
	return cmd
}

// outcome is the final result of one manifest request.
type outcome struct {
	name   string
	status int
	err    error
}

func (o outcome) String() string {
	if o.err != nil {
		return fmt.Sprintf("FAIL %s: %v", o.name, o.err)
	}
	return fmt.Sprintf("ok   %s (%d)", o.name, o.status)
}

func (a *app) run(ctx context.Context, path, tokenEnv string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	unit := a.cfg.Scheduler.BackoffUnit.Duration
	reqs, err := m.Build(a.cfg.Retry, unit)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	defer bus.Close()

	header := make(http.Header, len(a.cfg.Scheduler.DefaultHeaders))
	for k, v := range a.cfg.Scheduler.DefaultHeaders {
		header.Set(k, v)
	}

	opts := []scheduler.Option{
		scheduler.WithConcurrencyLimit(a.cfg.Scheduler.ConcurrencyLimit),
		scheduler.WithLogger(a.logger),
		scheduler.WithEventBus(bus),
		scheduler.WithBackoffUnit(unit),
		scheduler.WithDefaultHeader(header),
		scheduler.WithSuspended(a.cfg.Scheduler.SuspendedStart),
	}
	if tokenEnv != "" {
		opts = append(opts, scheduler.WithPrepare(bearerToken(tokenEnv, header)))
	}
	sched := scheduler.New(a.transport(), opts...)
	defer sched.Close()

	// Journal writes happen on their own goroutine and drain after the bus closes.
	var g errgroup.Group
	journal, err := persistence.Open(ctx, a.cfg.Journal)
	if err != nil {
		a.logger.Warn("journal disabled", "error", err)
	}
	if journal != nil {
		defer journal.Close()
		ch := bus.Subscribe(events.TopicTask, 1024)
		rec := persistence.NewRecorder(journal, a.logger)
		g.Go(func() error { return rec.Run(context.WithoutCancel(ctx), ch) })
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var program *tea.Program
	tuiDone := make(chan error, 1)
	if a.flagTUI {
		program = tea.NewProgram(tui.New(bus), tea.WithAltScreen())
		go func() {
			_, err := program.Run()
			cancelRun()
			tuiDone <- err
		}()
	}

	var (
		mu       sync.Mutex
		outcomes []outcome
	)
	for _, req := range reqs {
		req.AddCompletion(func(req *request.Request, resp *request.Response, err error) {
			o := outcome{name: req.Name(), err: err}
			if resp != nil {
				o.status = resp.StatusCode
			}
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
			if !a.flagTUI {
				fmt.Fprintln(a.out, o)
			}
		})
		if _, err := sched.Submit(req); err != nil {
			return err
		}
	}

	start := time.Now()
	a.logger.Info("running manifest", "path", path, "requests", len(reqs))
	sched.SetSuspended(false)

	waitErr := sched.Wait(runCtx)
	if waitErr != nil {
		a.logger.Warn("cancelling outstanding requests", "error", waitErr)
		sched.CancelAll()
	}
	if err := sched.Close(); err != nil {
		a.logger.Warn("scheduler close", "error", err)
	}
	stats := sched.Stats()
	bus.Close()
	if err := g.Wait(); err != nil {
		a.logger.Warn("journal recorder stopped", "error", err)
	}
	reportDropped(a.logger, bus)

	mu.Lock()
	done := outcomes
	mu.Unlock()

	if program != nil {
		if ctx.Err() != nil {
			program.Quit()
		}
		if err := <-tuiDone; err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		for _, o := range done {
			fmt.Fprintln(a.out, o)
		}
	}

	a.logger.Info("manifest finished",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"retried", stats.Retried,
		"duration", time.Since(start))

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("interrupted: %w", ctx.Err())
	case waitErr != nil && program != nil:
		return errors.New("dashboard closed before the queue drained")
	}
	failed := 0
	for _, o := range done {
		if o.err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(reqs))
	}
	return nil
}

// reportDropped warns when a full subscriber missed events, which leaves
// the journal or dashboard incomplete.
func reportDropped(logger *slog.Logger, bus *events.EventBus) {
	if n := bus.Dropped(); n > 0 {
		logger.Warn("subscribers missed events; journal may be incomplete", "dropped", n)
	}
}

// transport builds the HTTP transport, wrapped in per-host breakers when enabled.
func (a *app) transport() transport.Transport {
	tc := a.cfg.Transport
	var tr transport.Transport = transport.NewHTTP(transport.HTTPConfig{
		Timeout:      tc.Timeout.Duration,
		StatusErrors: tc.StatusErrors,
	})
	if tc.Breaker.Enabled {
		tr = transport.NewBreaker(tr, transport.BreakerConfig{
			MaxRequests:         tc.Breaker.MaxRequests,
			Timeout:             tc.Breaker.Timeout.Duration,
			ConsecutiveFailures: tc.Breaker.ConsecutiveFailures,
		}, a.logger)
	}
	return tr
}

// bearerToken reads the token from env before every attempt so rotated
// credentials are picked up by retries.
func bearerToken(env string, defaults http.Header) scheduler.PrepareFunc {
	return func(_ context.Context, req *request.Request) error {
		token := os.Getenv(env)
		if token == "" {
			return fmt.Errorf("%s is not set", env)
		}
		h := req.Header()
		if len(h) == 0 {
			h = defaults.Clone()
		}
		if h == nil {
			h = make(http.Header)
		}
		h.Set("Authorization", "Bearer "+token)
		req.SetHeader(h)
		return nil
	}
}
