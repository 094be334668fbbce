// Ticketwatch runs follow-up actions for classified customer support
// messages: team notification by email and interaction analytics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/ticketwatch/internal/action"
	"github.com/linnemanlabs/ticketwatch/internal/action/analyticsaction"
	"github.com/linnemanlabs/ticketwatch/internal/action/emailaction"
	"github.com/linnemanlabs/ticketwatch/internal/analytics"
	"github.com/linnemanlabs/ticketwatch/internal/analytics/memstore"
	"github.com/linnemanlabs/ticketwatch/internal/analytics/pgstore"
	"github.com/linnemanlabs/ticketwatch/internal/analytics/sqlitestore"
	tc "github.com/linnemanlabs/ticketwatch/internal/cfg"
	"github.com/linnemanlabs/ticketwatch/internal/intake"
	"github.com/linnemanlabs/ticketwatch/internal/kafka"
	"github.com/linnemanlabs/ticketwatch/internal/notify"
	"github.com/linnemanlabs/ticketwatch/internal/notify/simulate"
	"github.com/linnemanlabs/ticketwatch/internal/notify/slack"
	"github.com/linnemanlabs/ticketwatch/internal/notify/smtp"
	"github.com/linnemanlabs/ticketwatch/internal/postgres"
)

const appName = "ticketwatch"
const component = "processor"

// summaryDays is the window of the analytics summary logged at exit.
const summaryDays = 7

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

type stopFn struct {
	name string
	fn   func(context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg   tc.Config
		logCfg   log.Config
		opsCfg   opshttp.Config
		profCfg  prof.Config
		traceCfg otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix TICKETWATCH_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "TICKETWATCH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// action policy is loaded once and never reloaded
	actionCfg, err := action.LoadConfig(appCfg.ActionsConfig)
	if err != nil {
		return err
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"actions_config", appCfg.ActionsConfig,
		"parallel", actionCfg.Execution.Parallel,
		"action_timeout", actionCfg.Execution.Timeout(),
		"max_concurrency", actionCfg.Execution.MaxConcurrency,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOtelx(context.Background()) }()

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	var stopFns []stopFn

	// Initialize the analytics store
	store, closeStore, err := openStore(ctx, L, &appCfg, m.Registry())
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize notification channels, falling back to log-only delivery
	channel, err := buildChannel(ctx, L, &appCfg)
	if err != nil {
		return err
	}

	// Optional analytics event stream
	var sink analyticsaction.Sink
	if appCfg.KafkaAnalyticsTopic != "" {
		producer := kafka.NewProducer(appCfg.Brokers(), appCfg.KafkaAnalyticsTopic, L)
		sink = producer
		stopFns = append(stopFns, stopFn{"kafka producer", func(context.Context) error { return producer.Close() }})
		L.Info(ctx, "analytics events enabled", "topic", appCfg.KafkaAnalyticsTopic)
	}

	// Register actions
	actionMetrics := action.NewMetrics(m.Registry())
	manager := action.NewManager(actionCfg, L, actionMetrics.Hooks())
	registered := manager.RegisterAll(ctx,
		emailaction.Factory(channel, emailaction.Options{
			Domain:            appCfg.EmailDomain,
			OverrideRecipient: appCfg.EmailOverrideRecipient,
		}, L),
		analyticsaction.Factory(store, sink, analyticsaction.Options{
			RollupEvery:   appCfg.AnalyticsRollupEvery,
			InsightsEvery: appCfg.AnalyticsInsightsEvery,
		}, L),
	)
	for _, md := range manager.Status() {
		L.Info(ctx, "registered action", "name", md.Name, "key", md.Key, "enabled", md.Enabled, "priority", md.Priority)
	}
	if registered == 0 {
		return errors.New("no actions registered")
	}

	intakeMetrics := intake.NewMetrics(m.Registry())
	svc := intake.NewService(manager, L, intakeMetrics.Hooks())

	// setup toggle for shutdown. this is used to fail readiness checks while draining.
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	stopFns = append([]stopFn{{"ops http server", opsHTTPStop}}, stopFns...)

	// Open intake source and response sink
	src, closeSrc, err := openSource(L, &appCfg)
	if err != nil {
		return err
	}
	stopFns = append(stopFns, stopFn{"intake source", closeSrc})

	out, closeOut, err := openOutput(appCfg.Output)
	if err != nil {
		return err
	}
	defer closeOut()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx, src, out) }()

	var runErr error
	select {
	case runErr = <-runDone:
		// input exhausted (or intake failed) before any signal
		stop()
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")

		// fail readiness while the in-flight request finishes
		shutdownGate.Set("draining")
		L.Info(context.Background(), "shutdown gate closed")

		drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
		L.Info(context.Background(), "waiting for intake to drain", "drain_seconds", appCfg.DrainSeconds)
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case runErr = <-runDone:
			L.Info(context.Background(), "intake drained")
		case <-time.After(drainDuration):
			L.Warn(context.Background(), "drain period elapsed with a request in flight")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}
	if runErr != nil {
		L.Error(context.Background(), runErr, "intake stopped")
	}

	logSummary(L, store)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return runErr
}

// openStore picks Postgres, then SQLite, then memory.
func openStore(ctx context.Context, L log.Logger, c *tc.Config, reg prometheus.Registerer) (analytics.Store, func(), error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		postgres.RegisterQueryMetrics(reg)
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres analytics store")
		return s, pool.Close, nil

	case c.SQLitePath != "":
		s, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlitestore init: %w", err)
		}
		L.Info(ctx, "using sqlite analytics store", "path", c.SQLitePath)
		return s, func() {
			if err := s.Close(); err != nil {
				L.Error(context.Background(), err, "close sqlite store")
			}
		}, nil

	default:
		L.Info(ctx, "using in-memory analytics store (no database-url or sqlite-path configured)")
		return memstore.New(), func() {}, nil
	}
}

func buildChannel(ctx context.Context, L log.Logger, c *tc.Config) (notify.Channel, error) {
	var chans notify.Multi
	if c.SMTPHost != "" {
		ch, err := smtp.New(smtp.Config{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			Username: c.SMTPUsername,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
		}, L)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
		L.Info(ctx, "notifier enabled", "type", "smtp", "host", c.SMTPHost, "port", c.SMTPPort)
	}
	if c.SlackWebhookURL != "" {
		chans = append(chans, slack.New(c.SlackWebhookURL, L))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	switch len(chans) {
	case 0:
		L.Info(ctx, "no notifier configured, simulating deliveries")
		return simulate.New(L), nil
	case 1:
		return chans[0], nil
	default:
		return chans, nil
	}
}

func openSource(L log.Logger, c *tc.Config) (intake.Source, func(context.Context) error, error) {
	if c.KafkaRequestsTopic != "" {
		consumer := kafka.NewConsumer(c.Brokers(), c.KafkaRequestsTopic, c.KafkaGroupID, L)
		return consumer, func(context.Context) error { return consumer.Close() }, nil
	}
	if c.Input == "-" {
		return intake.NewJSONLSource(os.Stdin), func(context.Context) error { return nil }, nil
	}
	f, err := os.Open(c.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return intake.NewJSONLSource(f), func(context.Context) error { return f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // path comes from operator flags
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func logSummary(L log.Logger, store analytics.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, err := analytics.Summary(ctx, store, summaryDays, time.Now())
	if err != nil {
		L.Error(ctx, err, "analytics summary failed")
		return
	}
	L.Info(ctx, "analytics summary",
		"period_days", rep.PeriodDays,
		"daily_summaries", rep.DailySummaries,
		"issue_distribution", rep.IssueDistribution,
	)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr is from NOTIFY_SOCKET set by systemd, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
