package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360studio/votecontext/api"
	"github.com/c360studio/votecontext/config"
	"github.com/c360studio/votecontext/github"
	"github.com/c360studio/votecontext/identity"
	"github.com/c360studio/votecontext/metrics"
	"github.com/c360studio/votecontext/storage"
	"github.com/c360studio/votecontext/vote"
)

// App is the main application that wires together all components.
type App struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Storage
	store *storage.Store

	// Metrics
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Domain
	reconciler *vote.Reconciler
	committer  *vote.Committer
	verifier   identity.Verifier

	// HTTP
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error

	watcher *config.Watcher
}

// NewApp creates a new application instance. configPath, when set, is
// watched for reconcile changes once the app starts.
func NewApp(cfg *config.Config, configPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	reconciler, committer := newVoteServices(cfg, logger, m)

	app := &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		reconciler: reconciler,
		committer:  committer,
		verifier:   newVerifier(cfg, logger),
	}
	return app, nil
}

// newGitHubClient builds the Contents API client from config.
func newGitHubClient(cfg *config.Config, logger *slog.Logger) *github.Client {
	return github.NewClient(
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithToken(cfg.GitHub.Token()),
		github.WithUserAgent(cfg.GitHub.UserAgent),
		github.WithHTTPClient(&http.Client{Timeout: cfg.GitHub.Timeout}),
		github.WithLogger(logger),
	)
}

// newVoteServices builds the reconciler and committer over one client.
// rec may be nil.
func newVoteServices(cfg *config.Config, logger *slog.Logger, rec vote.Recorder) (*vote.Reconciler, *vote.Committer) {
	client := newGitHubClient(cfg, logger)

	ropts := []vote.ReconcilerOption{vote.WithReconcilerLogger(logger)}
	copts := []vote.CommitterOption{vote.WithCommitterLogger(logger)}
	if rec != nil {
		ropts = append(ropts, vote.WithReconcilerRecorder(rec))
		copts = append(copts, vote.WithCommitterRecorder(rec))
	}

	return vote.NewReconciler(client, cfg.Reconcile, ropts...),
		vote.NewCommitter(client, cfg.Commit, copts...)
}

func newVerifier(cfg *config.Config, logger *slog.Logger) identity.Verifier {
	if cfg.Identity.URL == "" {
		logger.Warn("No identity provider configured, authenticated endpoints will reject all requests")
		return nil
	}
	return identity.NewSupabaseVerifier(
		cfg.Identity.URL,
		cfg.Identity.APIKey(),
		identity.WithHTTPClient(&http.Client{Timeout: cfg.Identity.Timeout}),
		identity.WithLogger(logger),
	)
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	// Start NATS (embedded or connect to external)
	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	// Initialize storage
	store, err := storage.NewStore(ctx, a.js)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.store = store

	if !a.committer.Configured() {
		a.logger.Warn("GitHub token not configured, commits will be rejected",
			"env", a.cfg.GitHub.TokenEnv)
	}

	if err := a.startWatcher(ctx); err != nil {
		a.logger.Warn("Config hot reload disabled", "error", err)
	}

	return a.startHTTP()
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		// Connect to external NATS
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("votecontext"))
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		// Start embedded NATS server
		a.logger.Info("Starting embedded NATS server", "store_dir", a.cfg.NATS.StoreDir)
		ns, err := storage.StartEmbeddedServer(a.cfg.NATS.StoreDir)
		if err != nil {
			return err
		}
		a.embeddedServer = ns

		// Connect to embedded server
		conn, err := nats.Connect(ns.ClientURL(), nats.Name("votecontext"))
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	// Get JetStream context
	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func (a *App) startWatcher(ctx context.Context) error {
	if a.configPath == "" {
		return nil
	}

	w, err := config.NewWatcher(config.WatcherConfig{
		Path:        a.configPath,
		OnReconcile: a.reconciler.SetOptions,
		Logger:      a.logger,
	}, a.cfg.Reconcile)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// Routes returns the HTTP handler serving the API, health and metrics.
func (a *App) Routes() http.Handler {
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithRequestTimeout(a.cfg.Server.RequestTimeout),
		api.WithLogger(a.logger),
	}
	if a.store != nil {
		opts = append(opts, api.WithStore(a.store))
	}
	handler := api.NewHandler(a.reconciler, a.committer, a.verifier, opts...)

	mux := http.NewServeMux()
	handler.RegisterHTTPHandlers("api", mux)
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", metrics.Handler(a.registry))
	return mux
}

func (a *App) startHTTP() error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
	}
	a.listener = ln

	a.httpServer = &http.Server{
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.serveErr = make(chan error, 1)

	go func() {
		err := a.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		a.serveErr <- err
	}()

	a.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// ServeErr reports a listener failure after Start.
func (a *App) ServeErr() <-chan error {
	return a.serveErr
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	NATS        bool   `json:"nats"`
	GitHubToken bool   `json:"github_token"`
	Identity    bool   `json:"identity"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "ok",
		NATS:        a.natsConn != nil && a.natsConn.IsConnected(),
		GitHubToken: a.committer.Configured(),
		Identity:    a.verifier != nil,
	}
	status := http.StatusOK
	if !resp.NATS {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	a.logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
	}

	if a.watcher != nil {
		_ = a.watcher.Stop()
	}

	// Close NATS connection
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("Shutdown complete")
}
