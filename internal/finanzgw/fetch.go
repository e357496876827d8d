package finanzgw

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strings"
)

// Fetcher performs network requests on behalf of the gateway. An error means
// the network failed; any HTTP status, including 5xx, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (CachedResponse, error)
}

// OriginFetcher forwards requests to the FinanzApp origin.
type OriginFetcher struct {
	Origin  string
	Client  *http.Client
	MaxBody int64 // 0 means unlimited
}

func NewOriginFetcher(cfg Config) *OriginFetcher {
	return &OriginFetcher{
		Origin: cfg.Server.Origin,
		Client: &http.Client{
			Timeout: cfg.Network.timeoutDur,
			// Redirects belong to the browser.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		MaxBody: cfg.Network.maxBodyBytes,
	}
}

func (f *OriginFetcher) Fetch(ctx context.Context, r *http.Request) (CachedResponse, error) {
	originURL := f.Origin + r.URL.RequestURI()

	var body io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, originURL, body)
	if err != nil {
		return CachedResponse{}, err
	}
	req.ContentLength = r.ContentLength
	copyHeaders(req.Header, r.Header)

	resp, err := f.Client.Do(req)
	if err != nil {
		return CachedResponse{}, err
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if f.MaxBody > 0 {
		rd = io.LimitReader(resp.Body, f.MaxBody+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return CachedResponse{}, fmt.Errorf("read %s: %w", originURL, err)
	}
	if f.MaxBody > 0 && int64(len(b)) > f.MaxBody {
		return CachedResponse{}, fmt.Errorf("read %s: body exceeds %d bytes", originURL, f.MaxBody)
	}
	h := resp.Header.Clone()
	removeHopHeaders(h)
	return newCachedResponse(resp.StatusCode, h, b), nil
}

// Hop-by-hop headers, as listed by net/http/httputil.ReverseProxy.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders drops hop-by-hop headers plus any header named in
// Connection.
func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	removeHopHeaders(dst)
}

func newAssetRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}
