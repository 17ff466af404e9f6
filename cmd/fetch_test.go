package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/config"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	sqlitestore "github.com/JakeFAU/serial-archiver/internal/storage/sqlite"
)

const (
	fixtureDetail = `<html><body><div class="novel-info">
<h2 class="novel-title">The Archivist</h2><a class="novel-writer">Kim</a>
<ul class="novel-counts"><li data-kind="total">2</li></ul>
</div></body></html>`
	fixtureListing = `<table class="episode-list">
<tr class="episode" data-episode-id="11"><td class="ep-title">One</td></tr>
<tr class="episode" data-episode-id="12" data-paid="true"><td class="ep-title">Two</td></tr>
</table>`
	fixtureContent = `<h1 class="episode-title">One</h1><div id="novel_text"><p>Hello.</p></div>`
)

type siteHits struct {
	mu    sync.Mutex
	paths map[string]int
}

func (h *siteHits) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paths[path]
}

func newFixtureSite(t *testing.T) (*httptest.Server, *siteHits) {
	t.Helper()
	hits := &siteHits{paths: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.mu.Lock()
		hits.paths[r.URL.Path]++
		hits.mu.Unlock()
		switch r.URL.Path {
		case "/novel/42":
			_, _ = w.Write([]byte(fixtureDetail))
		case "/novel/42/episodes":
			_, _ = w.Write([]byte(fixtureListing))
		case "/viewer/11":
			_, _ = w.Write([]byte(fixtureContent))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func fixtureConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Fetcher: config.FetcherConfig{
			MaxAttempts: 1,
			BaseURLs:    map[string]string{"novelpia": baseURL},
		},
		Acquire:  config.AcquireConfig{Concurrency: 2, MaxListingPages: 3},
		Output:   config.OutputConfig{Dir: filepath.Join(dir, "out")},
		Database: config.DatabaseConfig{Backend: config.BackendSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "cache.db")}},
	}
}

func TestRenderUnits(t *testing.T) {
	t.Parallel()

	out := renderUnits([]novel.AcquiredUnit{
		{Unit: novel.Unit{Index: 0, ID: "u1", Title: "Listing title"}, Content: novel.UnitContent{Title: "Prologue", Text: "hello"}, Outcome: novel.OutcomeFetched},
		{Unit: novel.Unit{Index: 1, ID: "u2", Title: "Locked"}, Outcome: novel.OutcomeNotSubscribed},
	})

	require.Contains(t, out, "Prologue")
	require.Contains(t, out, "Locked")
	require.Contains(t, out, "not_subscribed")
	require.Contains(t, out, "5 B")
}

func TestRunFetchRejectsBadInput(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cases := map[string]fetchOptions{
		"platform": {platform: "kakao", workID: "1", format: "epub"},
		"format":   {platform: "novelpia", workID: "1", format: "pdf"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			err := runFetch(context.Background(), &buf, cfg, zap.NewNop(), opts)
			require.Error(t, err)
			require.Empty(t, buf.String())
		})
	}
}

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["fetch"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestFetchRequiresFlags(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"fetch"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "required flag")
}

func TestRuntimeFromMissing(t *testing.T) {
	t.Parallel()

	_, err := runtimeFrom(context.Background())
	require.Error(t, err)
}

func TestRunFetchUsesConfiguredCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, hits := newFixtureSite(t)
	cfg := fixtureConfig(t, srv.URL)

	// Unit 12 is unpurchased for this session but already cached by another reader.
	cache, err := sqlitestore.Open(ctx, cfg.Database.SQLite.Path)
	require.NoError(t, err)
	require.NoError(t, cache.Put(ctx, novel.CacheEntry{WorkID: "novelpia/42", UnitID: "12", Title: "Two", Text: "shared body"}))
	require.NoError(t, cache.Close())

	opts := fetchOptions{platform: "novelpia", workID: "42", format: "txt", userID: "cli"}
	var first bytes.Buffer
	require.NoError(t, runFetch(ctx, &first, cfg, zap.NewNop(), opts))
	require.Contains(t, first.String(), "fetched")
	require.Contains(t, first.String(), "cached")
	require.NotContains(t, first.String(), "not_subscribed")
	require.Equal(t, 1, hits.count("/viewer/11"))
	require.Zero(t, hits.count("/viewer/12"))

	// A second run is served entirely from the sqlite cache.
	var second bytes.Buffer
	require.NoError(t, runFetch(ctx, &second, cfg, zap.NewNop(), opts))
	require.Contains(t, second.String(), "fetched 0, cached 2")
	require.Equal(t, 1, hits.count("/viewer/11"))
}
