// Command compass runs the self-discovery journey service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/compass-agent/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/compass-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/compass-agent/internal/adapters/storage/memory"
	redisstore "github.com/PabloGalante/compass-agent/internal/adapters/storage/redis"
	sqlitestore "github.com/PabloGalante/compass-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/compass-agent/internal/app/agentflow"
	"github.com/PabloGalante/compass-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/compass-agent/internal/app/journal"
	"github.com/PabloGalante/compass-agent/internal/config"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

// set at build time
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "compass",
		Short:         "Compass - bilingual philosophical self-discovery journeys",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $COMPASS_CONFIG)")

	loadConfig := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		observability.Configure(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		return cfg, nil
	}

	rootCmd.AddCommand(newServeCmd(loadConfig), newJourneyCmd(loadConfig))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the wired services of one process.
type app struct {
	catalog *content.Catalog
	conv    *conversation.Service
	journal *journalapp.Service
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type stores struct {
	sessions domain.SessionStore
	messages domain.MessageStore
	journal  domain.JournalStore
	close    func() error
}

// buildApp wires the services. forceMemory ignores the configured backend.
func buildApp(ctx context.Context, cfg *config.Config, forceMemory bool) (*app, error) {
	log := observability.Logger()

	catalog, err := loadCatalog(cfg.ContentFile)
	if err != nil {
		return nil, err
	}

	provider, err := domain.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	resolver := llm.NewResolver(llm.ResolverConfig{
		DefaultProvider: provider,
		DefaultAPIKey:   cfg.APIKey,
		Gemini: llm.GeminiConfig{
			Model:         cfg.Gemini.Model,
			AnalysisModel: cfg.Gemini.AnalysisModel,
			BaseURL:       cfg.Gemini.BaseURL,
		},
		DeepSeek: llm.DeepSeekConfig{
			Model:   cfg.DeepSeek.Model,
			BaseURL: cfg.DeepSeek.BaseURL,
		},
	})
	if cfg.APIKey == "" && provider != domain.ProviderMock {
		log.Warn("no default API key configured; callers must supply their own", "provider", provider)
	}

	policy := retry.Default()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.MaxJitter = cfg.Retry.MaxJitter

	backend := cfg.Storage.Backend
	if forceMemory {
		backend = config.BackendMemory
	}
	st, err := openStores(ctx, backend, cfg.Storage)
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", "backend", backend)

	conv := conversation.NewService(
		agentflow.NewOrchestrator(catalog, resolver, agentflow.WithRetryPolicy(policy)),
		agentflow.NewAnalyst(catalog, resolver, policy),
		st.sessions,
		st.messages,
		st.journal,
	)

	a := &app{
		catalog: catalog,
		conv:    conv,
		journal: journalapp.NewService(st.journal),
	}
	if st.close != nil {
		a.closers = append(a.closers, st.close)
	}
	return a, nil
}

func loadCatalog(path string) (*content.Catalog, error) {
	if path == "" {
		return content.Default()
	}
	observability.Logger().Info("loading content catalog", "path", path)
	return content.LoadFile(path)
}

func openStores(ctx context.Context, backend string, cfg config.StorageConfig) (stores, error) {
	switch backend {
	case config.BackendSQLite:
		st, err := sqlitestore.NewStore(cfg.SQLitePath)
		if err != nil {
			return stores{}, fmt.Errorf("error initializing sqlite store: %w", err)
		}
		return stores{st, st, st, st.Close}, nil

	case config.BackendRedis:
		st, err := redisstore.NewStore(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return stores{}, fmt.Errorf("error initializing redis store: %w", err)
		}
		return stores{st, st, st, st.Close}, nil

	case config.BackendFirestore:
		// 1 store, implements 3 interfaces
		st, err := firestorestore.NewStore(ctx, firestorestore.Config{
			ProjectID:        cfg.GCPProjectID,
			CollectionPrefix: cfg.FirestorePrefix,
		})
		if err != nil {
			return stores{}, fmt.Errorf("error initializing firestore store: %w", err)
		}
		return stores{st, st, st, st.Close}, nil

	default:
		return stores{
			sessions: memstore.NewSessionStore(),
			messages: memstore.NewMessageStore(),
			journal:  memstore.NewJournalStore(),
		}, nil
	}
}
