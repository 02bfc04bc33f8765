package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenmeter/internal/adapters/config"
	"tokenmeter/internal/adapters/errors/noop"
	"tokenmeter/internal/adapters/errors/sentry"
	"tokenmeter/internal/adapters/spendapi"
	"tokenmeter/internal/meter"
	"tokenmeter/internal/pricing"
	"tokenmeter/internal/realtime"
	"tokenmeter/internal/tokenizer"
	"tokenmeter/pkg/errors"
	"tokenmeter/pkg/logger"
)

const closeTimeout = 15 * time.Second

func main() {
	// Parse flags
	input := flag.String("input", "-", "File of realtime events, one JSON object per line; - reads stdin")
	wsURL := flag.String("ws", "", "Read realtime events from this websocket URL instead of -input")
	transcripts := flag.Bool("transcripts", false, "Count finished transcripts and text parts through the tokenizer")
	offline := flag.Bool("offline", false, "Skip reconciliation with the spend endpoint")
	resetFirst := flag.Bool("reset", false, "Reset the server totals before replaying")
	flag.Parse()

	// Load config
	cfg, err := config.LoadClient()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	tracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(tracker)

	resolver, err := pricing.LoadResolver(cfg.Client.PricingFile)
	if err != nil {
		log.Fatalf("Failed to load pricing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.Client.RequestTimeout}
	counter := tokenizer.NewClient(tokenizer.ClientConfig{
		BaseURL:       cfg.Client.SpendAPIURL,
		Token:         cfg.Client.SpendAPIToken,
		RatePerMinute: cfg.Client.RatePerMinute,
		Timeout:       cfg.Client.RequestTimeout,
	}, httpClient, log)

	agg := meter.NewAggregator(resolver, counter, log, meter.WithModel(cfg.Client.DefaultModel))

	var reconciler *meter.Reconciler
	if !*offline {
		remote := spendapi.NewClient(cfg.Client.SpendAPIURL, cfg.Client.SpendAPIToken, httpClient)
		if *resetFirst {
			if _, err := remote.Reset(ctx); err != nil {
				log.Warnw("Server reset failed, replaying on top of existing totals", "error", err)
			}
		}

		reconciler = meter.NewReconciler(agg, remote, log, meter.ReconcilerConfig{
			PushTimeout: cfg.Client.PushTimeout,
			PullTimeout: cfg.Client.PullTimeout,
		})
		if err := reconciler.Start(ctx); err != nil {
			log.Fatalf("Failed to start reconciler: %v", err)
		}
	}

	log.Infow("Starting replay",
		"input", *input,
		"ws", *wsURL,
		"model", agg.Model(),
		"reconcile", reconciler != nil,
	)

	dispatcher := realtime.NewDispatcher(agg, log, *transcripts)
	if err := replay(ctx, *wsURL, *input, dispatcher, log); err != nil {
		log.Errorw("Replay stopped", "error", err)
	}

	if reconciler != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := reconciler.Close(closeCtx); err != nil {
			log.Warnw("Some usage pushes did not finish", "error", err)
		}
		cancel()
	}

	writeSummary(os.Stdout, agg.Totals())

	flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = tracker.Flush(flushCtx)
}

func replay(ctx context.Context, wsURL, input string, h realtime.Handler, log *logger.Logger) error {
	if wsURL != "" {
		src, err := realtime.Dial(ctx, wsURL, nil, log)
		if err != nil {
			return err
		}
		return src.Run(ctx, h)
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return errors.Wrapf(errors.ErrInvalidInput, "open %s: %v", input, err)
		}
		defer f.Close()
		r = f
	}

	n, err := realtime.ReadLines(ctx, r, h, log)
	log.Infow("Events replayed", "count", n)
	return err
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.ClientConfig, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}
	return tracker
}
