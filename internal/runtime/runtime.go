package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voxcpm/internal/bus"
	"github.com/loqalabs/loqa-voxcpm/internal/capability"
	"github.com/loqalabs/loqa-voxcpm/internal/config"
	"github.com/loqalabs/loqa-voxcpm/internal/eventstore"
	"github.com/loqalabs/loqa-voxcpm/internal/natsserver"
	"github.com/loqalabs/loqa-voxcpm/internal/tts"
	"github.com/loqalabs/loqa-voxcpm/internal/voxcpm"
	"golang.org/x/sync/errgroup"
)

// probeInterval is how often the provider endpoint is re-checked.
const probeInterval = 30 * time.Second

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *voxcpm.Provider
	bus      *bus.Client
	tts      *tts.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	defer r.bus.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	connector, err := voxcpm.ConnectorFromConfig(r.cfg.Provider)
	if err != nil {
		return err
	}
	r.provider = voxcpm.New(voxcpm.SettingsFromConfig(r.cfg.Provider), connector, r.logger)

	r.tts = tts.NewService(ctx, r.cfg.TTS, r.bus, r.provider, store, r.logger)
	if err := r.tts.Start(); err != nil {
		return fmt.Errorf("start tts service: %w", err)
	}
	defer r.tts.Close()

	if r.cfg.Node.Announce {
		announcer := capability.NewAnnouncer(r.cfg.Node, r.bus, r.capabilities, r.ready, r.logger)
		if err := announcer.Start(ctx); err != nil {
			return err
		}
		defer announcer.Close()
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           newHandler(r.tts, r.ready, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.probe(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("provider_mode", r.cfg.Provider.Mode),
		slog.String("provider_endpoint", r.cfg.Provider.Endpoint))

	return g.Wait()
}

func (r *Runtime) ready() bool {
	return r.bus.Healthy() && r.tts.Healthy() && r.provider.Ready()
}

func (r *Runtime) capabilities() []capability.Capability {
	settings := r.provider.Settings()
	return []capability.Capability{{
		Name: "tts",
		Tier: "voxcpm",
		Attributes: map[string]string{
			"endpoint": settings.Endpoint,
			"voices":   strconv.Itoa(len(r.provider.Catalog())),
			"ready":    strconv.FormatBool(r.provider.Ready()),
		},
	}}
}

// probe checks the endpoint until ctx ends. The catalog is loaded the first
// time the endpoint answers.
func (r *Runtime) probe(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	loaded := false
	for {
		if r.provider.CheckReady(ctx) && !loaded {
			if _, err := r.provider.RefreshVoices(ctx); err == nil {
				loaded = true
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
