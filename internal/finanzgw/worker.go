package finanzgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"finanzgw/internal/monitoring"
)

// apiMarker routes a request network-first when its URI contains it.
const apiMarker = "/api/"

const offlineBody = `{"error":"Offline - No se pudo conectar"}`

var ErrInstallFailed = errors.New("install failed")

type InstallResult struct {
	Version string
	Stored  int

	// SkipWaiting asks the host to activate right away instead of waiting
	// for the previous version to release control.
	SkipWaiting bool
}

type ActivateResult struct {
	Version string
	Purged  []string

	// Claim asks the host to route all requests through this worker now.
	Claim bool
}

type WorkerOptions struct {
	Concurrency int
	RAMMax      int64
	Metrics     *monitoring.Metrics
	Logger      *log.Logger

	offlineLog *rateLimitedLogger
}

// Worker is one deployed cache version. The host drives it through OnInstall,
// OnActivate and OnRequest.
type Worker struct {
	version string
	assets  []string
	storage Storage
	net     Fetcher

	concurrency int
	ram         *ramCache
	metrics     *monitoring.Metrics
	log         *log.Logger
	offlineLog  *rateLimitedLogger
}

func NewWorker(version string, assets []string, storage Storage, net Fetcher, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.offlineLog == nil {
		opts.offlineLog = newRateLimitedLogger(opts.Logger, time.Minute)
	}
	w := &Worker{
		version:     version,
		assets:      append([]string(nil), assets...),
		storage:     storage,
		net:         net,
		concurrency: opts.Concurrency,
		metrics:     opts.Metrics,
		log:         opts.Logger.With("version", version),
		offlineLog:  opts.offlineLog,
	}
	if opts.RAMMax > 0 {
		w.ram = newRAMCache(opts.RAMMax, newRateLimitedLogger(w.log, time.Minute))
	}
	return w
}

func (w *Worker) Version() string { return w.version }

// OnInstall fetches every asset and stores them in the version's bucket. A
// single failed fetch or non-2xx status aborts the install with nothing
// written.
func (w *Worker) OnInstall(ctx context.Context) (InstallResult, error) {
	durable, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return InstallResult{}, fmt.Errorf("%w: open bucket %q: %w", ErrInstallFailed, w.version, err)
	}
	bucket := w.withRAM(durable)

	var mu sync.Mutex
	entries := make(map[string]CachedResponse, len(w.assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, path := range w.assets {
		g.Go(func() error {
			req, err := newAssetRequest(gctx, path)
			if err != nil {
				return fmt.Errorf("asset %q: %w", path, err)
			}
			resp, err := w.fetch(gctx, monitoring.RouteInstall, req)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: status %d", path, resp.Status)
			}
			key, _ := requestKey(req)
			mu.Lock()
			entries[key] = resp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return InstallResult{}, fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := bucket.PutAll(ctx, entries); err != nil {
		return InstallResult{}, fmt.Errorf("%w: store assets: %w", ErrInstallFailed, err)
	}
	w.log.Debug("assets stored", "count", len(entries))
	return InstallResult{Version: w.version, Stored: len(entries), SkipWaiting: true}, nil
}

// OnActivate deletes every bucket except the worker's own and records the
// worker's version as active.
func (w *Worker) OnActivate(ctx context.Context) (ActivateResult, error) {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return ActivateResult{}, fmt.Errorf("list buckets: %w", err)
	}
	var purged []string
	for _, name := range names {
		if name == w.version {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return ActivateResult{Version: w.version, Purged: purged}, fmt.Errorf("delete bucket %q: %w", name, err)
		}
		purged = append(purged, name)
	}
	if err := w.storage.SetActiveVersion(ctx, w.version); err != nil {
		return ActivateResult{Version: w.version, Purged: purged}, fmt.Errorf("record active version: %w", err)
	}
	return ActivateResult{Version: w.version, Purged: purged, Claim: true}, nil
}

// OnRequest answers one intercepted request. API requests go to the network
// first and fall back to the offline payload; everything else is served from
// the bucket, or from the network on a miss without storing the result.
func (w *Worker) OnRequest(ctx context.Context, r *http.Request) (CachedResponse, error) {
	if isAPIRequest(r) {
		return w.networkFirst(ctx, r), nil
	}
	return w.cacheFirst(ctx, r)
}

func isAPIRequest(r *http.Request) bool {
	return strings.Contains(r.URL.RequestURI(), apiMarker)
}

func (w *Worker) networkFirst(ctx context.Context, r *http.Request) CachedResponse {
	resp, err := w.fetch(ctx, monitoring.RouteAPI, r)
	if err != nil {
		w.offlineLog.Warn("network unreachable, answering offline",
			"id", xid.New().String(), "method", r.Method, "uri", r.URL.RequestURI(), "err", err)
		w.metrics.ObserveRequest(monitoring.RouteAPI, monitoring.OutcomeOffline)
		return offlineResponse()
	}
	w.metrics.ObserveRequest(monitoring.RouteAPI, monitoring.OutcomeNetwork)
	return resp
}

func (w *Worker) cacheFirst(ctx context.Context, r *http.Request) (CachedResponse, error) {
	if key, ok := requestKey(r); ok {
		ent, hit, err := w.match(ctx, key)
		if err != nil {
			w.log.Error("bucket lookup failed", "key", key, "err", err)
		}
		if hit {
			w.metrics.ObserveRequest(monitoring.RouteStatic, monitoring.OutcomeCache)
			return ent, nil
		}
	}

	resp, err := w.fetch(ctx, monitoring.RouteStatic, r)
	if err != nil {
		w.metrics.ObserveRequest(monitoring.RouteStatic, monitoring.OutcomeError)
		return CachedResponse{}, err
	}
	w.metrics.ObserveRequest(monitoring.RouteStatic, monitoring.OutcomeNetwork)
	return resp, nil
}

// Bucket returns the worker's bucket, or ErrBucketNotFound once it has been
// deleted.
func (w *Worker) Bucket(ctx context.Context) (Bucket, error) {
	b, err := w.storage.Lookup(ctx, w.version)
	if err != nil {
		return nil, err
	}
	return w.withRAM(b), nil
}

// withRAM puts the worker's RAM tier, if any, in front of b.
func (w *Worker) withRAM(b Bucket) Bucket {
	if w.ram == nil {
		return b
	}
	return &ramBucket{Bucket: b, ram: w.ram}
}

func (w *Worker) match(ctx context.Context, key string) (CachedResponse, bool, error) {
	b, err := w.Bucket(ctx)
	if errors.Is(err, ErrBucketNotFound) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	ent, ok, err := b.Match(ctx, key)
	if err != nil || !ok {
		return ent, ok, err
	}
	if !ent.intact() {
		w.log.Warn("stored entry is corrupt, treating as miss", "key", key)
		return CachedResponse{}, false, nil
	}
	return ent, true, nil
}

func (w *Worker) fetch(ctx context.Context, route string, r *http.Request) (CachedResponse, error) {
	start := time.Now()
	resp, err := w.net.Fetch(ctx, r)
	if w.metrics != nil {
		w.metrics.OriginLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
	return resp, err
}

func offlineResponse() CachedResponse {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return newCachedResponse(http.StatusOK, h, []byte(offlineBody))
}
