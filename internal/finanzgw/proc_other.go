//go:build !linux

package finanzgw

func processRSSBytes() (rssBytes uint64, ok bool) {
	return 0, false
}
