package finanzgw

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("dial tcp: connect: network is unreachable")

// fakeFetcher serves canned responses by request URI and records every call.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]CachedResponse
	err       error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]CachedResponse{}}
}

func (f *fakeFetcher) serve(uri string, status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	f.responses[uri] = newCachedResponse(status, h, []byte(body))
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offline {
		f.err = errOffline
	} else {
		f.err = nil
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, r *http.Request) (CachedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uri := r.URL.RequestURI()
	f.calls = append(f.calls, r.Method+" "+uri)
	if f.err != nil {
		return CachedResponse{}, f.err
	}
	if resp, ok := f.responses[uri]; ok {
		return resp, nil
	}
	return newCachedResponse(http.StatusNotFound, http.Header{"Content-Type": {"text/plain"}}, []byte("not found")), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func testConfig(t *testing.T, version string, assets ...string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Version = version
	cfg.Assets = assets
	cfg.Server.Origin = "http://origin.test"
	cfg.Storage.Driver = DriverMemory
	cfg.Install.RetryEvery = "0"
	cfg.Monitoring.Enabled = false
	require.NoError(t, cfg.compile())
	return cfg
}

func newGet(uri string) *http.Request {
	r, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		panic(err)
	}
	return r
}

func bucketKeys(t *testing.T, st Storage, name string) []string {
	t.Helper()
	b, err := st.Lookup(context.Background(), name)
	require.NoError(t, err)
	keys, err := b.Keys(context.Background())
	require.NoError(t, err)
	return keys
}
