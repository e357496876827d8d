package finanzgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"finanzgw/internal/monitoring"
)

// Service hosts the cache workers: it fires their lifecycle events, keeps
// track of which version is in control and dispatches requests to it.
type Service struct {
	cfg Config

	storage Storage
	net     Fetcher
	metrics *monitoring.Metrics
	log     *log.Logger

	offlineLog *rateLimitedLogger
	stats      *responseStats

	// mu serializes lifecycle transitions.
	mu     sync.Mutex
	active atomic.Pointer[Worker]

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	startOnce sync.Once
}

type Options struct {
	Storage Storage
	Fetcher Fetcher // defaults to an OriginFetcher for cfg.Server.Origin
	Metrics *monitoring.Metrics
	Logger  *log.Logger
}

func NewService(cfg Config, opts Options) (*Service, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewOriginFetcher(cfg)
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	return &Service{
		cfg:        cfg,
		storage:    opts.Storage,
		net:        opts.Fetcher,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		offlineLog: newRateLimitedLogger(opts.Logger, time.Minute),
		stats:      newResponseStats(),
		stopCh:     make(chan struct{}),
	}, nil
}

func (s *Service) newWorker(version string) *Worker {
	return NewWorker(version, s.cfg.Assets, s.storage, s.net, WorkerOptions{
		Concurrency: s.cfg.Install.Concurrency,
		RAMMax:      s.cfg.Storage.ramMaxBytes,
		Metrics:     s.metrics,
		Logger:      s.log,
		offlineLog:  s.offlineLog,
	})
}

// ActiveVersion is the version of the worker in control, or "" when requests
// currently pass straight through to the origin.
func (s *Service) ActiveVersion() string {
	if w := s.active.Load(); w != nil {
		return w.Version()
	}
	return ""
}

func (s *Service) Ready() bool { return s.active.Load() != nil }

// Start brings the configured version into control and starts the background
// loops. A failed install is logged, not returned: the previously recorded
// version, if any, keeps serving and the retry loop tries again later.
func (s *Service) Start(ctx context.Context) error {
	resumed, err := s.resume(ctx)
	if err != nil {
		return err
	}
	if !resumed {
		if err := s.Update(ctx); err != nil {
			s.log.Warn("install failed", "version", s.cfg.Version, "err", err,
				"active", s.ActiveVersion())
		}
	}

	s.startOnce.Do(func() {
		if every := s.cfg.Install.retryEveryDur; every > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.retryLoop(every)
			}()
		}
		if every := s.cfg.Logging.logStatsEveryDur; every > 0 {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.statsLoop(every)
			}()
		}
	})
	return nil
}

// resume takes control with the configured version without firing lifecycle
// events when storage says it already completed activation.
func (s *Service) resume(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded, err := s.storage.ActiveVersion(ctx)
	if err != nil {
		return false, fmt.Errorf("read active version: %w", err)
	}
	if recorded != s.cfg.Version {
		return false, nil
	}
	if _, err := s.storage.Lookup(ctx, recorded); err != nil {
		if errors.Is(err, ErrBucketNotFound) {
			return false, nil
		}
		return false, err
	}
	s.active.Store(s.newWorker(recorded))
	s.refreshEntries(ctx)
	s.log.Info("resumed cache version", "version", recorded)
	return true, nil
}

// Update installs and activates the configured version unless it is already
// in control. On install failure the current controller is kept; when there
// is none, the last activated version recorded in storage takes over.
func (s *Service) Update(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ActiveVersion() == s.cfg.Version {
		return nil
	}

	w := s.newWorker(s.cfg.Version)
	res, err := w.OnInstall(ctx)
	if err != nil {
		s.metrics.InstallsTotal.WithLabelValues("failure").Inc()
		if s.active.Load() == nil {
			s.restorePreviousLocked(ctx)
		}
		return err
	}
	s.metrics.InstallsTotal.WithLabelValues("success").Inc()
	s.log.Info("installed cache version", "version", res.Version, "assets", res.Stored)

	if !res.SkipWaiting {
		return nil
	}

	act, err := w.OnActivate(ctx)
	s.metrics.BucketsPurgedTotal.Add(float64(len(act.Purged)))
	if err != nil {
		return fmt.Errorf("activate %q: %w", w.Version(), err)
	}
	for _, name := range act.Purged {
		s.log.Info("purged cache bucket", "bucket", name)
	}
	if act.Claim {
		s.active.Store(w)
		s.refreshEntries(ctx)
		s.log.Info("cache version in control", "version", w.Version())
	}
	return nil
}

func (s *Service) restorePreviousLocked(ctx context.Context) {
	prev, err := s.storage.ActiveVersion(ctx)
	if err != nil || prev == "" || prev == s.cfg.Version {
		return
	}
	if _, err := s.storage.Lookup(ctx, prev); err != nil {
		return
	}
	s.active.Store(s.newWorker(prev))
	s.refreshEntries(ctx)
	s.log.Warn("previous cache version stays in control", "version", prev)
}

func (s *Service) retryLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			if s.ActiveVersion() == s.cfg.Version {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), every)
			if err := s.Update(ctx); err != nil {
				s.log.Warn("install retry failed", "version", s.cfg.Version, "err", err)
			}
			cancel()
		}
	}
}

func (s *Service) refreshEntries(ctx context.Context) int {
	w := s.active.Load()
	if w == nil {
		s.metrics.ActiveBucketEntries.Set(0)
		return 0
	}
	b, err := w.Bucket(ctx)
	if err != nil {
		return 0
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		return 0
	}
	s.metrics.ActiveBucketEntries.Set(float64(len(keys)))
	return len(keys)
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			entries := s.refreshEntries(ctx)
			cancel()

			rss, ok := processRSSBytes()
			if ok {
				s.metrics.ProcessRSS.Set(float64(rss))
			}
			ss := s.stats.Snapshot()
			s.log.Info("stats",
				"version", s.ActiveVersion(),
				"entries", entries,
				"responses", ss.Responses,
				"resp", formatBytes(ss.MinBytes)+"/"+formatBytes(ss.AvgBytes)+"/"+formatBytes(ss.MaxBytes),
				"rss", formatBytes(rss),
			)
		}
	}
}

// Close stops the background loops. The storage is owned by the caller.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	wk := s.active.Load()
	if wk == nil {
		s.passThrough(w, r)
		return
	}
	resp, err := wk.OnRequest(r.Context(), r)
	if err != nil {
		s.log.Debug("request failed", "method", r.Method, "uri", r.URL.RequestURI(), "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.writeResponse(w, resp)
}

// passThrough serves requests while no version is in control.
func (s *Service) passThrough(w http.ResponseWriter, r *http.Request) {
	resp, err := s.net.Fetch(r.Context(), r)
	if err != nil {
		s.metrics.ObserveRequest(monitoring.RoutePassthrough, monitoring.OutcomeError)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	s.metrics.ObserveRequest(monitoring.RoutePassthrough, monitoring.OutcomeNetwork)
	s.writeResponse(w, resp)
}

func (s *Service) writeResponse(w http.ResponseWriter, resp CachedResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
	s.stats.Observe(len(resp.Body))
}
