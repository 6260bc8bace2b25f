// Package squaled is the server root: it builds the pool/worker topology
// from configuration, owns the listener, and orchestrates startup and
// shutdown, per spec.md §4.8.
package squaled

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/squaled/squaled/internal/backend"
	"github.com/squaled/squaled/internal/backend/mysql"
	"github.com/squaled/squaled/internal/backend/postgres"
	"github.com/squaled/squaled/internal/backend/sqlite"
	"github.com/squaled/squaled/internal/backend/stub"
	"github.com/squaled/squaled/internal/client"
	"github.com/squaled/squaled/internal/config"
	"github.com/squaled/squaled/internal/httpapi"
	"github.com/squaled/squaled/internal/listener"
	"github.com/squaled/squaled/internal/pool"
	"github.com/squaled/squaled/internal/worker"
)

// backendFactories maps a PoolSpec.Backend tag to the Factory that builds
// a connection for one worker, per SPEC_FULL.md §4 (domain stack).
var backendFactories = map[string]backend.Factory{
	"sqlite":   sqlite.Factory,
	"postgres": postgres.Factory,
	"mysql":    mysql.Factory,
	"stub":     stub.Factory,
}

// Logger is the subset of logging.Manager the server root uses directly.
type Logger interface {
	client.Logger
	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Reopen() error
}

// Server owns every Pool, every Worker, and the Listener, and satisfies
// client.Registry so Client instances can reach back into it for control
// verbs without importing this package.
type Server struct {
	cfg *config.Config
	log Logger

	pools       map[string]*pool.Pool
	poolWorkers map[string][]*worker.Worker
	poolSpecs   map[string]config.PoolSpec

	ln *listener.Listener

	startedAt time.Time

	mu              sync.Mutex
	connectedCount  int
	shutdownOnce    sync.Once
	shutdownTrigger context.CancelFunc
	runCtx          context.Context
	wg              *sync.WaitGroup
}

// New builds the pool/worker topology described by cfg. It does not open
// the listener or start workers; call Run for that.
func New(cfg *config.Config, log Logger) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		log:         log,
		pools:       make(map[string]*pool.Pool, len(cfg.Pools)),
		poolWorkers: make(map[string][]*worker.Worker, len(cfg.Pools)),
		poolSpecs:   make(map[string]config.PoolSpec, len(cfg.Pools)),
	}

	for _, spec := range cfg.Pools {
		if err := s.buildPool(spec); err != nil {
			return nil, fmt.Errorf("pool %q: %w", spec.Name, err)
		}
	}

	return s, nil
}

func (s *Server) buildPool(spec config.PoolSpec) error {
	p := pool.New(spec.Name, spec.Backend, spec.MaxPendingWarn, spec.MaxPendingBlock)
	key := strings.ToLower(spec.Name)

	workers, err := newWorkersForSpec(spec, p)
	if err != nil {
		return err
	}
	p.ReplaceWorkers(workerInfos(workers))

	s.pools[key] = p
	s.poolSpecs[key] = spec
	s.poolWorkers[key] = workers
	return nil
}

// newWorkersForSpec builds the workers named by spec against p, without
// attaching or starting them, so both the initial topology build and a
// squale_startup relaunch can share the construction logic.
func newWorkersForSpec(spec config.PoolSpec, p *pool.Pool) ([]*worker.Worker, error) {
	factory, ok := backendFactories[spec.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", spec.Backend)
	}

	workers := make([]*worker.Worker, 0, len(spec.Workers))
	for i, ws := range spec.Workers {
		b, err := factory(ws.ToBackendProperties())
		if err != nil {
			return nil, fmt.Errorf("worker %d: building backend: %w", i, err)
		}
		workers = append(workers, worker.New(fmt.Sprintf("%s-%d", spec.Name, i), p, b, ws.CycleAfter))
	}
	return workers, nil
}

func workerInfos(workers []*worker.Worker) []pool.WorkerInfo {
	infos := make([]pool.WorkerInfo, len(workers))
	for i, w := range workers {
		infos[i] = w
	}
	return infos
}

// launchWorkers starts each worker's run loop on its own goroutine, tracked
// by wg so Run's shutdown sequence (and a later squale_shutdown) can wait
// for it to exit.
func (s *Server) launchWorkers(ctx context.Context, wg *sync.WaitGroup, workers []*worker.Worker) {
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Run opens the listener, starts every worker, and blocks until ctx is
// canceled or TriggerGlobalShutdown is called, then performs the
// shutdown sequence of spec.md §4.8.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.shutdownTrigger = cancel
	s.mu.Unlock()
	defer cancel()

	ln, err := listener.New(s.cfg.Server.SocketPath, os.FileMode(s.cfg.Server.SocketMode))
	if err != nil {
		return fmt.Errorf("failed to open listener: %w", err)
	}
	s.ln = ln

	s.startedAt = time.Now()

	wg := &sync.WaitGroup{}
	s.mu.Lock()
	s.runCtx = ctx
	s.wg = wg
	s.mu.Unlock()

	for _, workers := range s.poolWorkers {
		s.launchWorkers(ctx, wg, workers)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- s.ln.Serve(ctx, s.handleConnection)
	}()

	var adminSrv *http.Server
	if s.cfg.Server.Admin.Enabled {
		router := httpapi.New(s, prometheus.NewRegistry())
		adminSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", s.cfg.Server.Admin.Host, s.cfg.Server.Admin.Port),
			Handler: router.Engine(),
		}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("admin http server stopped: %v", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		if err != nil {
			s.log.Errorf("listener stopped: %v", err)
		}
	}

	s.log.Info("shutdown requested, waiting for workers to drain")
	for _, p := range s.pools {
		p.BroadcastShutdown()
	}
	for _, workers := range s.poolWorkers {
		for _, w := range workers {
			w.RequestShutdown()
		}
	}

	wg.Wait()
	_ = s.ln.Close()
	if adminSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	s.log.Info("shutdown complete")
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	s.mu.Lock()
	s.connectedCount++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connectedCount--
		s.mu.Unlock()
	}()

	c := client.New(conn, s, s.log)
	c.Serve(ctx)
}

// LookupPool implements client.Registry. Pool names are matched
// case-insensitively, per spec.md §4.4.
func (s *Server) LookupPool(name string) (*pool.Pool, bool) {
	p, ok := s.pools[strings.ToLower(name)]
	return p, ok
}

// AllStats returns a fresh Stats snapshot for every configured pool, keyed
// by pool name, for the httpapi and metrics packages.
func (s *Server) AllStats() map[string]pool.Stats {
	out := make(map[string]pool.Stats, len(s.pools))
	for name, p := range s.pools {
		out[name] = p.GetStats()
	}
	return out
}

// ConnectedClients returns the number of client connections currently
// being served.
func (s *Server) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedCount
}

// StartedAt returns when Run opened the listener.
func (s *Server) StartedAt() time.Time { return s.startedAt }

// GlobalStats implements client.Registry, answering squale_global_stats.
func (s *Server) GlobalStats() map[string]string {
	s.mu.Lock()
	connected := s.connectedCount
	s.mu.Unlock()

	names := make([]string, 0, len(s.pools))
	for name := range s.pools {
		names = append(names, name)
	}

	return map[string]string{
		"version":           "0.1.0",
		"uptime_seconds":    fmt.Sprintf("%.0f", time.Since(s.startedAt).Seconds()),
		"connected_clients": fmt.Sprintf("%d", connected),
		"pool_count":        fmt.Sprintf("%d", len(names)),
		"pools":             fmt.Sprintf("%v", names),
	}
}

// StartupPool implements client.Registry's squale_startup effect: if the
// pool is CLOSED, clear it, reopen it, and relaunch a fresh generation of
// its workers (the generation RequestShutdown stopped cannot be resumed,
// since its shutdown flag is one-way).
func (s *Server) StartupPool(name string) error {
	key := strings.ToLower(name)

	s.mu.Lock()
	p, ok := s.pools[key]
	if !ok {
		s.mu.Unlock()
		return ErrPoolNotFound
	}
	spec := s.poolSpecs[key]
	ctx, wg := s.runCtx, s.wg
	s.mu.Unlock()

	if p.GetStatus() != pool.StatusClosed {
		return nil
	}

	workers, err := newWorkersForSpec(spec, p)
	if err != nil {
		return err
	}
	p.ReplaceWorkers(workerInfos(workers))
	p.Clear()
	p.SetStatus(pool.StatusOpened)

	s.mu.Lock()
	s.poolWorkers[key] = workers
	s.mu.Unlock()

	// Run hasn't started yet (e.g. SetupEnvironment-time probing); the
	// initial launch loop in Run will pick these workers up instead.
	if ctx != nil && wg != nil {
		s.launchWorkers(ctx, wg, workers)
	}
	return nil
}

// ShutdownPool implements client.Registry's squale_shutdown effect: close
// the pool, drop its queued jobs, and request its workers' run loops exit
// after their current job (if any).
func (s *Server) ShutdownPool(name string) error {
	key := strings.ToLower(name)

	s.mu.Lock()
	p, ok := s.pools[key]
	if !ok {
		s.mu.Unlock()
		return ErrPoolNotFound
	}
	workers := s.poolWorkers[key]
	s.mu.Unlock()

	if p.GetStatus() != pool.StatusOpened {
		return nil
	}

	p.SetStatus(pool.StatusClosed)
	p.Clear()
	for _, w := range workers {
		w.RequestShutdown()
	}
	return nil
}

// TriggerGlobalShutdown implements client.Registry's squale_global_shutdown
// effect: cancel the server's run context, starting the shutdown sequence.
func (s *Server) TriggerGlobalShutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		cancel := s.shutdownTrigger
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}
