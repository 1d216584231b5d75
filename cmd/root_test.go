package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/bloom"
	"github.com/JakeFAU/listing-crawler/internal/config"
	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/server"
)

func TestRootCmdRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{
		"serve", "scrape", "parse", "detect-changes", "requeue", "reconcile",
		"migrate", "queue", "bloom", "blacklist", "domain",
	} {
		require.Contains(t, names, want)
	}
}

func TestSubcommandArgs(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	tests := []struct {
		path []string
		args []string
		ok   bool
	}{
		{path: []string{"queue", "add"}, args: nil, ok: false},
		{path: []string{"queue", "add"}, args: []string{"https://firma.cz/"}, ok: true},
		{path: []string{"bloom", "check"}, args: []string{"streets"}, ok: false},
		{path: []string{"bloom", "check"}, args: []string{"streets", "LOI"}, ok: true},
		{path: []string{"bloom", "import"}, args: []string{"streets", "file.txt"}, ok: true},
		{path: []string{"domain", "set-depth"}, args: []string{"firma.cz"}, ok: false},
		{path: []string{"migrate", "up"}, args: []string{"extra"}, ok: false},
	}
	for _, tt := range tests {
		c, _, err := root.Find(tt.path)
		require.NoError(t, err, strings.Join(tt.path, " "))
		err = c.Args(c, tt.args)
		if tt.ok {
			require.NoError(t, err, strings.Join(tt.path, " "))
		} else {
			require.Error(t, err, strings.Join(tt.path, " "))
		}
	}
}

func TestReadItems(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "streets.txt")
	require.NoError(t, os.WriteFile(path, []byte("LOI\n\n  WETSTRAAT \r\n"), 0o600))

	items, err := readItems(nil, path)
	require.NoError(t, err)
	require.Equal(t, []string{"LOI", "WETSTRAAT"}, items)

	items, err = readItems(strings.NewReader("A\nB\n"), "-")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, items)

	_, err = readItems(nil, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestRenderTables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	renderQueueStats(&buf, crawler.QueueStats{Pending: 7, Failed: 2})
	require.Contains(t, buf.String(), "PENDING")
	require.Contains(t, buf.String(), "7")

	buf.Reset()
	renderBloomStats(&buf, []bloom.Stats{{Name: "be_address_streets", ItemCount: 3, Capacity: 100, ErrorRate: 0.001, LastUpdated: time.Unix(0, 0).UTC()}})
	require.Contains(t, buf.String(), "be_address_streets")
	require.Contains(t, buf.String(), "0.001")

	buf.Reset()
	renderBlacklist(&buf, []crawler.BlacklistEntry{{Domain: "spam.cz", Reason: "parked"}})
	require.Contains(t, buf.String(), "spam.cz")
}

// newApp is package state, so this test does not run in parallel.
func TestRuntimeBuildsAppOnce(t *testing.T) {
	calls := 0
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, config.Config, *zap.Logger) (*server.App, error) {
		calls++
		return &server.App{}, nil
	}

	rt := &runtime{logger: zap.NewNop()}
	first, err := rt.App(context.Background())
	require.NoError(t, err)
	second, err := rt.App(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)

	newApp = func(context.Context, config.Config, *zap.Logger) (*server.App, error) {
		return nil, errors.New("dsn missing")
	}
	_, err = (&runtime{logger: zap.NewNop()}).App(context.Background())
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestResolveRuntimeWithoutPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(context.Background())
	require.ErrorContains(t, err, "not initialized")
}
