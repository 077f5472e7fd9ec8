package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/frame"
	"github.com/kidwatch/kidwatch-go/internal/api"
	"github.com/kidwatch/kidwatch-go/internal/config"
	"github.com/kidwatch/kidwatch-go/sink"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var mode string
	var idle bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the camera until interrupted",
		Long: `Run starts the camera and a monitoring session, analyzing a frame every
interval. With the control API enabled (api.listen), sessions can also be
started and stopped over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			m, err := parseMode(mode, cfg)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log, m, idle)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "behavior to watch: homework or eating (default from config)")
	cmd.Flags().BoolVar(&idle, "idle", false, "do not start a session, wait for the control API")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, mode kidwatch.Mode, idle bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	credential := cfg.Gemini.APIKey
	if credential == "" && (cfg.API.Listen == "" || !idle) {
		return fmt.Errorf("%w: set GEMINI_API_KEY or gemini.api_key", kidwatch.ErrMissingCredential)
	}

	recorder, err := newRecorder(cfg, log)
	if err != nil {
		return err
	}
	defer recorder.Close()

	sampler := frame.NewSampler(recorder, &frame.SamplerOpts{
		MaxAge:   cfg.Camera.MaxAge,
		Encode:   encodeOpts(cfg),
		TraceDir: cfg.TraceDir,
		Logger:   log.With("component", "sampler"),
	})
	defer sampler.Close()

	backend, store, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	dispatcher := sink.NewDispatcher(backend, &sink.DispatcherOpts{
		QueueSize: cfg.Sink.QueueSize,
		Logger:    log.With("component", "sink"),
	})
	defer dispatcher.Close()

	var announcer kidwatch.Announcer
	if ch := newAnnouncer(cfg, log); ch != nil {
		defer ch.Close()
		announcer = ch
	}

	monitor, err := kidwatch.NewMonitor(sampler, newAnalyzer(cfg, log), announcer, dispatcher, &kidwatch.MonitorOpts{
		Interval:     cfg.Monitor.Interval,
		CycleTimeout: cfg.Monitor.CycleTimeout,
		SubjectID:    cfg.SubjectID,
		History:      cfg.Monitor.History,
		Logger:       log.With("component", "monitor"),
	})
	if err != nil {
		return err
	}
	defer monitor.Close()

	statuses, unsubscribe := monitor.Subscribe(16)
	defer unsubscribe()
	go func() {
		for st := range statuses {
			log.Info("status", "state", st.State, "message", st.Message, "error", st.Err, "violation_rate", st.ViolationRate)
		}
	}()

	if cfg.API.Listen != "" {
		opts := api.Options{
			Controller: monitor,
			Credential: func() string { return credential },
			SinkStats:  dispatcher.Stats,
			Logger:     log.With("component", "api"),
		}
		if store != nil {
			opts.Events = store
		}
		srv := &http.Server{
			Addr:         cfg.API.Listen,
			Handler:      api.NewRouter(opts),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			log.Info("control api starting", "addr", cfg.API.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("server error", "error", err)
				stop()
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Error("shutdown error", "error", err)
			}
		}()
	}

	if !idle {
		if err := monitor.Start(mode, credential); err != nil {
			return err
		}
	}

	<-ctx.Done()
	log.Info("shutting down...")
	monitor.Stop()
	st := monitor.Status()
	log.Info("monitor stopped", "cycles", st.Cycles, "violations", st.Violations, "sink", dispatcher.Stats())
	return nil
}
