package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, origin, version string) string {
	t.Helper()
	dir := t.TempDir()
	raw := fmt.Sprintf(`
version: %s
assets:
  - /
  - /app.js
server:
  origin: %s
install:
  retryEvery: "0"
storage:
  driver: leveldb
  leveldb:
    path: %s
monitoring:
  enabled: false
`, version, origin, filepath.Join(dir, "leveldb"))
	path := filepath.Join(dir, "finanzgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInstallThenListBuckets(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/app.js":
			io.WriteString(w, "ok")
		default:
			http.NotFound(w, r)
		}
	}))
	defer origin.Close()

	cfgPath := writeConfig(t, origin.URL, "finanzapp-v1")

	out, err := run(t, "install", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "finanzapp-v1 active\n", out)

	out, err = run(t, "buckets", "-c", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"BUCKET", "ENTRIES", "ACTIVE"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"finanzapp-v1", "2", "*"}, strings.Fields(lines[1]))
}

func TestInstallFailsWhenAssetMissing(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	defer origin.Close()

	_, err := run(t, "install", "--config", writeConfig(t, origin.URL, "finanzapp-v1"))
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := run(t, "buckets", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestBucketTableSplitsOnWhitespace(t *testing.T) {
	out := bucketTable([][]string{
		{"finanzapp-v2", "7", "*"},
		{"finanzapp-v1", "0", ""},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.NotContains(t, out, "│")
	assert.Equal(t, []string{"finanzapp-v2", "7", "*"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"finanzapp-v1", "0"}, strings.Fields(lines[2]))
}

func TestServeStopsMonitoringWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	mon, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	monAddr := mon.Addr().String()
	require.NoError(t, mon.Close())

	dir := t.TempDir()
	raw := fmt.Sprintf(`
server:
  port: %d
  origin: http://127.0.0.1:1
install:
  retryEvery: "0"
storage:
  driver: memory
monitoring:
  enabled: true
  listen: %q
`, port, monAddr)
	path := filepath.Join(dir, "finanzgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err = run(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")

	// The metrics listener was released again.
	again, err := net.Listen("tcp", monAddr)
	require.NoError(t, err)
	again.Close()
}
