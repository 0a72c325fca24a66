package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/PabloGalante/riseup-agent/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/riseup-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/riseup-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/riseup-agent/internal/app/affirmation"
	"github.com/PabloGalante/riseup-agent/internal/app/conversation"
	"github.com/PabloGalante/riseup-agent/internal/app/delivery"
	"github.com/PabloGalante/riseup-agent/internal/app/fallback"
	"github.com/PabloGalante/riseup-agent/internal/config"
	"github.com/PabloGalante/riseup-agent/internal/domain"
	"github.com/PabloGalante/riseup-agent/internal/observability"
)

const mockStep = 40 * time.Millisecond

// loadConfig reads the config and sets up the global logger. Logs go to w.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	format := cfg.Log.Format
	if cfg.Mode == config.ModeGCP {
		format = "json"
	}
	return cfg, observability.Configure(w, cfg.Log.Level, format), nil
}

func buildTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.StreamTransport, error) {
	switch cfg.Gemini.Backend {
	case config.BackendMock:
		logger.Info("using mock transport")
		return llm.NewMockTransport(mockStep), nil

	case config.BackendVertex:
		logger.Info("using Vertex AI transport", "project", cfg.GCP.Project, "location", cfg.GCP.Location, "model", cfg.Gemini.Model)
		t, err := llm.NewVertexTransport(ctx, cfg.GCP.Project, cfg.GCP.Location, cfg.Gemini.Model)
		if err != nil {
			return nil, fmt.Errorf("error initializing Vertex transport: %w", err)
		}
		return t, nil

	default:
		if cfg.Gemini.APIKey == "" {
			// requests will be rejected and every reply will come from the fallback responder
			logger.Warn("gemini.api_key is empty, replies will use the local fallback")
		}
		logger.Info("using Gemini SSE transport", "endpoint", cfg.Gemini.Endpoint, "model", cfg.Gemini.Model)
		return llm.NewSSETransport(
			cfg.Gemini.Endpoint,
			cfg.Gemini.Model,
			cfg.Gemini.APIKey,
			llm.WithChunkTimeout(cfg.Delivery.ChunkTimeout),
			llm.WithLogger(logger.With("component", "llm.sse")),
		), nil
	}
}

type storage struct {
	sessions     domain.SessionStore
	turns        domain.TurnStore
	affirmations domain.AffirmationStore
	close        func() error
}

func buildStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Storage.Backend {
	case "firestore":
		logger.Info("using Firestore storage", "project", cfg.GCP.Project)
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCP.Project)
		if err != nil {
			return nil, fmt.Errorf("error initializing Firestore store: %w", err)
		}

		// 1 store, implements 3 interfaces
		return &storage{
			sessions:     fsStore,
			turns:        fsStore,
			affirmations: fsStore,
			close:        fsStore.Close,
		}, nil

	default:
		logger.Info("using in-memory storage")
		return &storage{
			sessions:     memstore.NewSessionStore(),
			turns:        memstore.NewTurnStore(),
			affirmations: memstore.NewAffirmationStore(),
			close:        func() error { return nil },
		}, nil
	}
}

func buildService(
	cfg *config.Config,
	transport domain.StreamTransport,
	store *storage,
	surfaces conversation.SurfaceFunc,
) *conversation.Service {
	return conversation.NewService(
		transport,
		fallback.NewResponder(nil),
		store.sessions,
		store.turns,
		affirmation.NewService(store.affirmations),
		surfaces,
		conversation.WithEngineOptions(
			delivery.WithContextTurns(cfg.Delivery.ContextTurns),
			delivery.WithFallbackDelay(cfg.Delivery.FallbackDelayMin, cfg.Delivery.FallbackDelayMax),
		),
	)
}
