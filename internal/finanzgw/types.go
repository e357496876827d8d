package finanzgw

import (
	"hash/crc32"
	"net/http"
)

// CachedResponse is a response as held by a bucket or returned by the network.
type CachedResponse struct {
	Status int
	Header http.Header
	Body   []byte

	// Hash32 is the CRC32 (IEEE) of Body at the time it was fetched.
	Hash32 uint32
}

func newCachedResponse(status int, h http.Header, body []byte) CachedResponse {
	hdr := cloneHeader(h)
	hdr.Del("Content-Length")
	return CachedResponse{
		Status: status,
		Header: hdr,
		Body:   body,
		Hash32: crc32.ChecksumIEEE(body),
	}
}

// intact reports whether Body still matches Hash32.
func (c CachedResponse) intact() bool {
	return crc32.ChecksumIEEE(c.Body) == c.Hash32
}

// OK reports whether the status is in the 2xx range.
func (c CachedResponse) OK() bool {
	return c.Status >= 200 && c.Status < 300
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

// requestKey is the identity a request is stored and matched under. Only GET
// requests have one.
func requestKey(r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		return "", false
	}
	return assetKey(r.URL.RequestURI()), true
}

func assetKey(uri string) string {
	return http.MethodGet + " " + uri
}
