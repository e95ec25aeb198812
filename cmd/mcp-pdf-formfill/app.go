package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-pdf-formfill/internal/blob"
	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/lifecycle"
	"github.com/a3tai/mcp-pdf-formfill/internal/lock"
	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/mcp"
	"github.com/a3tai/mcp-pdf-formfill/internal/metrics"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/realtime"
	"github.com/a3tai/mcp-pdf-formfill/internal/session"
	"github.com/a3tai/mcp-pdf-formfill/internal/store"
)

const shutdownTimeout = 5 * time.Second

// app holds every long-lived component of the server.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	repo     store.Repository
	channel  realtime.Channel
	sessions *session.Manager
	server   *mcp.Server
	ops      *http.Server
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		log:      zap.L(),
		registry: prometheus.NewRegistry(),
	}
	if err := a.init(ctx); err != nil {
		// Release whatever was opened before the failing step
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	table, err := loadTable(cfg.MappingFile)
	if err != nil {
		return err
	}

	if a.repo, err = store.New(ctx, cfg.DBDriver, cfg.DBDSN); err != nil {
		return eris.Wrapf(err, "open %s repository", cfg.DBDriver)
	}
	a.closers = append(a.closers, a.repo.Close)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}

	if a.channel, err = a.openChannel(ctx, m); err != nil {
		return err
	}
	a.closers = append(a.closers, a.channel.Close)

	locks := lock.NewKeyed()
	ctrl := lifecycle.NewController(a.repo, blobs, locks,
		lifecycle.WithTable(table),
		lifecycle.WithFiller(forms.NewFiller(forms.WithLogger(a.log.Named("fill")))),
		lifecycle.WithMetrics(m),
		lifecycle.WithLogger(a.log.Named("lifecycle")),
		lifecycle.WithMaxFileSize(cfg.MaxFileSize),
	)
	a.sessions = session.NewManager(a.repo, a.channel, locks,
		session.WithTimeout(cfg.SessionTimeout),
		session.WithBuffer(cfg.BroadcastBuffer),
		session.WithMetrics(m),
		session.WithLogger(a.log.Named("session")),
	)

	if a.server, err = mcp.NewServer(cfg, ctrl, a.sessions); err != nil {
		return eris.Wrap(err, "create MCP server")
	}
	if cfg.MetricsAddr != "" {
		a.ops = newOpsServer(cfg.MetricsAddr, newOpsRouter(a.registry, a.healthChecks()))
	}
	return nil
}

func loadTable(path string) (*mapping.Table, error) {
	if path == "" {
		return mapping.DefaultTable(), nil
	}
	t, err := mapping.LoadTable(path)
	if err != nil {
		return nil, eris.Wrapf(err, "load mapping table %s", path)
	}
	return t, nil
}

// openBlobs prefers Cloud Storage when a bucket is configured.
func (a *app) openBlobs(ctx context.Context) (blob.Store, error) {
	if a.cfg.GCSBucket == "" {
		s, err := blob.NewFSStore(a.cfg.BlobDir)
		if err != nil {
			return nil, eris.Wrapf(err, "open blob directory %s", a.cfg.BlobDir)
		}
		return s, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "create storage client")
	}
	a.closers = append(a.closers, client.Close)
	s, err := blob.NewGCSStore(client, a.cfg.GCSBucket, a.cfg.GCSPrefix)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openChannel uses Redis when configured so sessions on several server
// processes see each other; otherwise events stay in-process.
func (a *app) openChannel(ctx context.Context, m *metrics.Metrics) (realtime.Channel, error) {
	opts := []realtime.Option{
		realtime.WithBuffer(a.cfg.BroadcastBuffer),
		realtime.WithDropFunc(func(realtime.Event) { m.IncDropped() }),
	}
	if a.cfg.RedisURL == "" {
		return realtime.NewHub(opts...), nil
	}
	ch, err := realtime.OpenRedis(ctx, a.cfg.RedisURL, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "connect to redis")
	}
	return ch, nil
}

func (a *app) healthChecks() map[string]healthCheck {
	checks := map[string]healthCheck{"repository": a.repo.Ping}
	if h, ok := a.channel.(interface{ Health(context.Context) error }); ok {
		checks["realtime"] = h.Health
	}
	return checks
}

// run blocks until ctx is cancelled or a component fails; either way every
// component is stopped before it returns.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.server.Run(ctx)
		if err == nil && a.cfg.IsStdioMode() {
			// stdin closed: the client went away, stop everything else too
			return errStdioClosed
		}
		return err
	})
	g.Go(func() error {
		return a.sessions.Run(ctx, a.cfg.SweepInterval)
	})
	if a.ops != nil {
		g.Go(func() error {
			a.log.Info("ops server listening", zap.String("addr", a.ops.Addr))
			if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "ops server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.ops.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, errStdioClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errStdioClosed = errors.New("stdio closed")

// close stops sessions and releases resources in reverse order of opening.
func (a *app) close() error {
	if a.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		a.sessions.Close(ctx)
		cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
