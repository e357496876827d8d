package finanzgw

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// responseStats tracks sizes of response bodies written to clients.
type responseStats struct {
	count atomic.Uint64
	total atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

func newResponseStats() *responseStats {
	s := &responseStats{}
	s.min.Store(math.MaxUint64)
	return s
}

func (s *responseStats) Observe(bodyBytes int) {
	if bodyBytes < 0 {
		bodyBytes = 0
	}
	n := uint64(bodyBytes)
	s.count.Add(1)
	s.total.Add(n)
	casUpdate(&s.min, n, func(n, cur uint64) bool { return n < cur })
	casUpdate(&s.max, n, func(n, cur uint64) bool { return n > cur })
}

func casUpdate(v *atomic.Uint64, n uint64, better func(n, cur uint64) bool) {
	for {
		cur := v.Load()
		if !better(n, cur) || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

type statsSnapshot struct {
	Responses uint64
	MinBytes  uint64
	AvgBytes  uint64
	MaxBytes  uint64
}

func (s *responseStats) Snapshot() statsSnapshot {
	count := s.count.Load()
	if count == 0 {
		return statsSnapshot{}
	}
	return statsSnapshot{
		Responses: count,
		MinBytes:  s.min.Load(),
		AvgBytes:  s.total.Load() / count,
		MaxBytes:  s.max.Load(),
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b < kb:
		return fmt.Sprintf("%db", b)
	case b < mb:
		return trimFloat(float64(b)/kb) + "kb"
	case b < gb:
		return trimFloat(float64(b)/mb) + "mb"
	default:
		return trimFloat(float64(b)/gb) + "gb"
	}
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", f), ".0")
}
