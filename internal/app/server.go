package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/samvad-hq/nexlink/internal/api"
	"github.com/samvad-hq/nexlink/internal/capture"
	"github.com/samvad-hq/nexlink/internal/config"
	"github.com/samvad-hq/nexlink/internal/executor"
	"github.com/samvad-hq/nexlink/internal/identity"
	"github.com/samvad-hq/nexlink/internal/logger"
	"github.com/samvad-hq/nexlink/internal/storage"
	"github.com/samvad-hq/nexlink/pkg/httpclient"
	"github.com/samvad-hq/nexlink/pkg/publishers"
)

// Server represents the API runtime. It owns the store, the event sinks and
// the HTTP listener, and releases them on shutdown.
type Server struct {
	cfg    *config.Config
	log    logger.Logger
	store  storage.Store
	fanout *publishers.Fanout
	http   *http.Server
}

// NewServer wires storage, publishers, the executor and the API from cfg.
func NewServer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	fanout, err := loadPublishers(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	path := storagePath(cfg)
	store, err := storage.NewStore(cfg.StorageType, path, storage.Options{})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": path,
	})

	exec := executor.New(store, store,
		executor.WithClient(httpclient.NewRestyClient(httpclient.DefaultTimeout)),
		executor.WithEvents(fanout),
		executor.WithLogger(log),
	)

	handler := api.New(api.Deps{
		Variables: store,
		History:   store,
		Executor:  exec,
		Capture:   capture.New(store, store, log),
		Verifier:  identity.NewJWTVerifier(cfg.JWTSecret),
		Log:       log,
		CORS:      api.CORSConfig{AllowedOrigins: cfg.AllowedOrigins()},
	}).Handler()

	return &Server{
		cfg:    cfg,
		log:    log,
		store:  store,
		fanout: fanout,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
	}, nil
}

// loadPublishers builds the event fanout; no publishers file means no sinks.
func loadPublishers(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		log.InfoObj("no publishers file configured; execution events disabled", "publishers_meta", map[string]any{
			"count": 0,
		})
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	fanout, err := publishers.DefaultRegistry().Fanout(ctx, publisherReg.All(), log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	enabledPublishers := publisherReg.Enabled()

	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})
	return fanout, nil
}

func storagePath(cfg *config.Config) string {
	switch cfg.StorageType {
	case storage.TypeSQLite:
		return cfg.SQLitePath
	case storage.TypeBBolt:
		return cfg.BBoltPath
	default:
		return ""
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		s.close()
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.close()

	s.log.InfoObj("server listening", "server_state", map[string]any{
		"addr":             ln.Addr().String(),
		"publishers_count": s.fanout.Size(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	s.log.InfoObj("server shutting down", "server_state", map[string]any{
		"reason":  ctx.Err().Error(),
		"timeout": s.cfg.ShutdownTimeout.String(),
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

func (s *Server) close() {
	if s.fanout != nil {
		if err := s.fanout.Close(); err != nil {
			s.log.WarnObj("failed to close publishers", "publishers_error", err.Error())
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.WarnObj("failed to close store", "storage_error", err.Error())
		}
	}
}
