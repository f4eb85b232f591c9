package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaywing/relaywing/internal/backend"
	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/config"
	"github.com/relaywing/relaywing/internal/events"
	"github.com/relaywing/relaywing/internal/httpserver"
	"github.com/relaywing/relaywing/internal/ledger"
	ledgerasync "github.com/relaywing/relaywing/internal/ledger/async"
	ledgerpg "github.com/relaywing/relaywing/internal/ledger/postgres"
	ledgersql "github.com/relaywing/relaywing/internal/ledger/sqlite"
	"github.com/relaywing/relaywing/internal/logging"
	"github.com/relaywing/relaywing/internal/metrics"
	"github.com/relaywing/relaywing/internal/openai"
	"github.com/relaywing/relaywing/internal/orchestrator"
	"github.com/relaywing/relaywing/internal/ratelimit"
	"github.com/relaywing/relaywing/internal/tools"
	"github.com/relaywing/relaywing/internal/version"
)

func main() {
	cfg, err := config.LoadGatewayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	logOutput := io.Writer(os.Stdout)
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, cfg.LogMaxBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		logOutput = io.MultiWriter(os.Stdout, rot)
		defer rot.Close()
	}
	rootLogger := logging.Component(logOutput, "main", cfg.Environment, cfg.LogLevel)
	rootLogger.Printf("relaywing %s starting environment=%s backend_mode=%s", version.FullInfo(), cfg.Environment, cfg.BackendMode)

	ledgerStore, err := openLedger(cfg, logging.Component(logOutput, "ledger", cfg.Environment, cfg.LogLevel))
	if err != nil {
		rootLogger.Fatalf("open ledger: %v", err)
	}
	defer ledgerStore.Close()

	collector := metrics.NewCollector()

	var dispatcher *events.Dispatcher
	if handler := cfg.Events.BuildScriptHandler(); handler != nil {
		dispatcher = &events.Dispatcher{}
		dispatcher.Register(handler)
		rootLogger.Printf("event dispatcher enabled script=%s", cfg.Events.ScriptPath)
	}

	registry := tools.NewRegistry()
	if cfg.WebToolsEnabled {
		tools.RegisterWebTools(registry, tools.WebConfig{
			SearchURL:  cfg.SearchURL,
			MaxResults: cfg.WebMaxResults,
			MaxBytes:   cfg.WebMaxBytes,
			Timeout:    cfg.WebTimeout,
		})
		rootLogger.Printf("web tools enabled search_url=%s", cfg.SearchURL)
	}

	poolLogger := logging.Component(logOutput, "tools", cfg.Environment, cfg.LogLevel)
	serversFile, err := tools.LoadServersFile(cfg.ToolServersFile)
	if err != nil {
		rootLogger.Fatalf("load tool servers: %v", err)
	}
	pool := tools.NewPool(serversFile.Servers, poolLogger)
	defer pool.Close()
	if len(serversFile.Servers) > 0 {
		primeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool.Prime(primeCtx, registry)
		cancel()
		rootLogger.Printf("tool servers primed count=%d", len(serversFile.Servers))
	}

	br := bridge.New(bridge.Config{
		Mode:             cfg.BackendMode,
		FallbackMode:     cfg.FallbackMode,
		TextModel:        cfg.TextModel,
		VisionModel:      cfg.VisionModel,
		ForceReasoning:   cfg.ForceReasoning,
		WebToolsEnabled:  cfg.WebToolsEnabled,
		DefaultMaxTokens: cfg.DefaultMaxTokens,
	})

	backendLogger := logging.Component(logOutput, "backend", cfg.Environment, cfg.LogLevel)
	backends := orchestrator.Backends{}
	if strings.TrimSpace(cfg.OpenAIBaseURL) != "" {
		backends.OpenAI = orchestrator.WrapChatClient(backend.NewChatClient(backend.Config{
			BaseURL:        cfg.OpenAIBaseURL,
			APIKey:         cfg.OpenAIAPIKey,
			RequestTimeout: cfg.RequestTimeout,
			StreamTimeout:  cfg.StreamTimeout,
		}, backendLogger))
	}
	if strings.TrimSpace(cfg.AltBaseURL) != "" {
		backends.Alt = orchestrator.WrapChatClient(backend.NewChatClient(backend.Config{
			BaseURL:        cfg.AltBaseURL,
			APIKey:         cfg.AltAPIKey,
			RequestTimeout: cfg.RequestTimeout,
			StreamTimeout:  cfg.StreamTimeout,
		}, backendLogger))
	}
	if strings.TrimSpace(cfg.NativeBaseURL) != "" {
		backends.Native = orchestrator.WrapNativeClient(backend.NewNativeClient(backend.Config{
			BaseURL:        cfg.NativeBaseURL,
			APIKey:         cfg.NativeAPIKey,
			RequestTimeout: cfg.RequestTimeout,
			StreamTimeout:  cfg.StreamTimeout,
		}, backendLogger))
	}

	observers := orchestrator.MultiObserver{collector}
	if dispatcher != nil {
		observers = append(observers, &events.Observer{
			Dispatcher: dispatcher,
			Logger:     logging.Component(logOutput, "events", cfg.Environment, cfg.LogLevel),
		})
	}

	engine := orchestrator.New(
		orchestrator.Config{
			MaxToolIterations:      cfg.MaxToolIterations,
			MaxConsecutiveInternal: cfg.MaxConsecutiveInternal,
			ToolCallTimeout:        cfg.ToolCallTimeout,
		},
		br,
		registry,
		backends,
		orchestrator.WithObserver(observers),
		orchestrator.WithLogger(logging.Component(logOutput, "orchestrator", cfg.Environment, cfg.LogLevel)),
		orchestrator.WithServerTools(func() []openai.Tool { return pool.ToolDefinitions() }),
	)

	var limiter *ratelimit.Middleware
	if cfg.RateLimitEnabled {
		store := buildRateLimitStore(cfg, rootLogger)
		rl := ratelimit.NewLimiter(ratelimit.Config{
			Store:             store,
			RequestsPerSecond: cfg.RateLimitPerSec,
			BurstSize:         cfg.RateLimitBurst,
		})
		defer rl.Close()
		limiter = ratelimit.NewMiddleware(rl, true,
			logging.Component(logOutput, "ratelimit", cfg.Environment, cfg.LogLevel),
			collector.RecordRateLimitHit)
	}

	httpSrv := httpserver.New(httpserver.Config{
		Engine:    engine,
		Bridge:    br,
		Ledger:    ledgerStore,
		Metrics:   collector,
		Events:    dispatcher,
		RateLimit: limiter,
		Logger:    logging.Component(logOutput, "httpserver", cfg.Environment, cfg.LogLevel),
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// Write timeout must outlast the longest stream.
		WriteTimeout: cfg.StreamTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		rootLogger.Printf("gateway listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rootLogger.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rootLogger.Printf("graceful shutdown failed: %v", err)
	}
}

func openLedger(cfg config.GatewayConfig, logger *log.Logger) (ledger.Store, error) {
	var store ledger.Store
	var err error
	switch cfg.LedgerDriver {
	case "postgres":
		store, err = ledgerpg.New(cfg.LedgerDSN, 10, 5, 30, 10)
	default:
		store, err = ledgersql.New(cfg.LedgerPath)
	}
	if err != nil {
		return nil, err
	}
	if cfg.LedgerAsync {
		store = ledgerasync.New(store, ledgerasync.Config{Logger: logger})
	}
	return store, nil
}

func buildRateLimitStore(cfg config.GatewayConfig, logger *log.Logger) ratelimit.Store {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return ratelimit.NewMemoryStore()
	}
	store, err := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Printf("[WARN] redis rate limit store unavailable (%v); falling back to memory", err)
		return ratelimit.NewMemoryStore()
	}
	return store
}
