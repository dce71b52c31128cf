package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewline/agent/agent/confirm"
	llmx "github.com/crewline/agent/agent/llm"
	"github.com/crewline/agent/agent/models"
	"github.com/crewline/agent/agent/orchestrator"
	routerx "github.com/crewline/agent/agent/router"
	sequencerx "github.com/crewline/agent/agent/sequencer"
	statex "github.com/crewline/agent/agent/state"
	toolx "github.com/crewline/agent/agent/tool"
	"github.com/crewline/agent/api"
	configx "github.com/crewline/agent/pkg/config"
	logx "github.com/crewline/agent/pkg/logger"
)

type AppConfig struct {
	Addr                string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	DatabaseDSN         string        `envconfig:"DATABASE_DSN" split_words:"true"`
	ConfidenceThreshold float64       `envconfig:"CONFIDENCE_THRESHOLD" split_words:"true" default:"0.6"`
	WindowSize          int           `envconfig:"WINDOW_SIZE" split_words:"true" default:"12"`
	MaxEditRounds       int           `envconfig:"MAX_EDIT_ROUNDS" split_words:"true" default:"0"`
	ShutdownTimeout     time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"15s"`
}

// onboardingModules is the default guided flow: profile first, then crew
// requirements, then the journey template.
func onboardingModules() []sequencerx.ModuleConfig {
	return []sequencerx.ModuleConfig{
		{ID: "profile", Order: 10, Action: sequencerx.Action{
			Tool: toolx.ToolGetProfile,
			Args: statex.FieldBag{"owner_id": ""},
		}},
		{ID: "crew-requirements", Order: 20, Action: sequencerx.Action{
			Tool: toolx.ToolSearchTrips,
			Args: statex.FieldBag{"query": "open crew positions matching the skipper profile"},
		}},
		{ID: "journey", Order: 30, Action: sequencerx.Action{
			Tool: toolx.ToolProposeTemplate,
			Args: statex.FieldBag{"journey": map[string]any{}},
		}},
	}
}

func main() {
	appCfg := configx.MustNew[AppConfig]("APP")
	logCfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*logCfg)
	log := logx.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, appCfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("init session store")
	}

	tools := toolx.NewRegistry()
	if err := toolx.RegisterCatalog(tools, toolx.StubBackend{}); err != nil {
		log.Fatal().Err(err).Msg("register tool catalog")
	}

	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	registry, err := models.NewRegistry(ctx, *llmCfg, tools, appCfg.ConfidenceThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("init model registry")
	}

	toolRouter, err := routerx.New(tools, registry.ToolPlanner())
	if err != nil {
		log.Fatal().Err(err).Msg("init tool router")
	}

	controller, err := confirm.New(registry.Extractor())
	if err != nil {
		log.Fatal().Err(err).Msg("init confirm controller")
	}

	o, err := orchestrator.New(ctx, orchestrator.Config{
		WindowSize:    appCfg.WindowSize,
		MaxEditRounds: appCfg.MaxEditRounds,
		Modules:       onboardingModules(),
	}, store, registry, toolRouter, controller)
	if err != nil {
		log.Fatal().Err(err).Msg("init orchestrator")
	}

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           api.NewHandler(o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", appCfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// buildStore picks the durable postgres store when a DSN is configured and
// falls back to the in-memory store otherwise.
func buildStore(ctx context.Context, dsn string) (statex.Store, error) {
	if dsn == "" {
		return statex.NewMemoryStore(), nil
	}

	db, err := statex.OpenPostgres(statex.BunStoreConfig{DSN: dsn, Timeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	store, err := statex.NewBunStore(db)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
