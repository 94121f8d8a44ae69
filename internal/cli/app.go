package cli

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
	"github.com/gzhole/graphpower/internal/config"
	"github.com/gzhole/graphpower/internal/discovery"
	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/logger"
	"github.com/gzhole/graphpower/internal/mcp"
	"github.com/gzhole/graphpower/internal/orchestrator"
	"github.com/gzhole/graphpower/internal/telemetry"
)

// app is the wired server shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	metrics  *telemetry.Metrics
	insights *telemetry.AppInsights
	audit    *logger.AuditLogger
	graph    *graph.Client
	engine   *discovery.Engine
	orch     *orchestrator.Orchestrator
	server   *mcp.Server
}

// newApp loads configuration and builds the dependency graph. transport
// labels audit entries ("http", "stdio", "cli").
func newApp(transport string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logOpts := logger.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		Verbose: verbose,
		Quiet:   quiet,
	}
	if logFile != "" {
		logOpts.File = logFile
	}
	zl, err := logger.NewZap(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: zl, clock: clock.Real()}

	if cfg.Telemetry.Metrics {
		a.metrics = telemetry.NewMetrics(nil, telemetry.DefaultNamespace)
	}
	a.insights = telemetry.NewAppInsights(telemetry.AppInsightsConfig{
		ConnectionString: cfg.Telemetry.ConnectionString,
		RoleName:         cfg.Telemetry.RoleName,
		Clock:            a.clock,
		Logger:           zl,
	})

	if cfg.Audit.Enabled && cfg.Audit.Path != "" {
		a.audit, err = logger.NewWithLimit(cfg.Audit.Path, cfg.Audit.MaxBytes)
		if err != nil {
			zl.Warn("audit log disabled", zap.String("path", cfg.Audit.Path), zap.Error(err))
		}
	}

	// 0 in the file means no retries; the client reads 0 as "default".
	maxRetries := cfg.Graph.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	graphCfg := graph.ClientConfig{
		BaseURL:           cfg.Graph.BaseURL,
		HTTP:              &http.Client{Timeout: cfg.Graph.Timeout.Std()},
		Clock:             a.clock,
		MaxRetries:        maxRetries,
		DefaultRetryAfter: cfg.Graph.DefaultRetryAfter.Std(),
		MaxRetryAfter:     cfg.Graph.MaxRetryAfter.Std(),
		PageSize:          cfg.Graph.PageSize,
		Logger:            zl,
	}
	engineCfg := discovery.EngineConfig{
		Searcher: discovery.NewDocsClient(discovery.DocsClientConfig{
			URL:           cfg.Docs.URL,
			ClientName:    "graph-power-orchestration",
			ClientVersion: Version,
			Logger:        zl,
		}),
		Clock:    a.clock,
		CacheTTL: cfg.Docs.CacheTTL.Std(),
		Logger:   zl,
	}
	orchCfg := orchestrator.Config{
		Clock:   a.clock,
		Logger:  zl,
		OnAudit: a.auditFunc(transport),
	}
	serverCfg := mcp.ServerConfig{
		Version:   Version,
		Telemetry: a.insights,
		Logger:    zl,
		Clock:     a.clock,
	}
	if a.metrics != nil {
		graphCfg.Observer = a.metrics
		engineCfg.Observer = a.metrics
		orchCfg.Observer = a.metrics
		serverCfg.Metrics = a.metrics
	}

	a.graph = graph.NewClient(graphCfg)
	a.engine = discovery.NewEngine(engineCfg)
	orchCfg.Graph = a.graph
	orchCfg.Discovery = a.engine
	a.orch = orchestrator.New(orchCfg)
	serverCfg.Tools = a.orch
	a.server = mcp.NewServer(serverCfg)

	zl.Debug("configuration loaded",
		zap.String("config", cfg.Path),
		zap.String("graph", cfg.Graph.BaseURL),
		zap.String("docs", cfg.Docs.URL),
		zap.Bool("telemetry", a.insights.Enabled()),
		zap.Bool("audit", a.audit != nil))
	return a, nil
}

func (a *app) auditFunc(transport string) orchestrator.AuditFunc {
	return func(e orchestrator.AuditEntry) {
		if a.audit == nil {
			return
		}
		err := a.audit.Log(logger.AuditEvent{
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339),
			Tool:       e.Tool,
			Arguments:  e.Arguments,
			Outcome:    e.Outcome,
			StatusCode: e.StatusCode,
			DurationMS: e.Duration.Milliseconds(),
			Transport:  transport,
			Error:      e.Error,
		})
		if err != nil {
			a.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}

// close flushes telemetry and closes the audit log.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.insights.Flush(ctx); err != nil {
		a.logger.Warn("telemetry flush incomplete", zap.Error(err))
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	_ = a.logger.Sync()
}
