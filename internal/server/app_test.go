package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/config"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	sqlitestore "github.com/JakeFAU/serial-archiver/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Server: config.ServerConfig{Port: 8080, ReadTimeoutSeconds: 5, WriteTimeoutSeconds: 5},
		Fetcher: config.FetcherConfig{
			UserAgent:            "test",
			DetailTimeoutSeconds: 1,
			UnitTimeoutSeconds:   1,
			MaxAttempts:          1,
			BaseURLs:             map[string]string{"novelpia": "http://127.0.0.1:1", "kakao": "http://ignored"},
		},
		Acquire:  config.AcquireConfig{Concurrency: 2, MaxListingPages: 3},
		Workers:  config.WorkersConfig{Count: 1, QueueDepth: 4},
		Output:   config.OutputConfig{Dir: filepath.Join(dir, "out")},
		Storage:  config.StorageConfig{Backend: config.BackendLocal, Local: config.LocalConfig{BaseDir: filepath.Join(dir, "exports")}},
		Database: config.DatabaseConfig{Backend: config.BackendMemory},
	}
}

func TestBuildMemoryApp(t *testing.T) {
	t.Parallel()

	app, err := build(context.Background(), testConfig(t), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	body := bytes.NewBufferString(`{"user_id":"reader","platform":"novelpia","work_id":"9"}`)
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, app.queue.Len())

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildSQLiteCache(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{
		Backend: config.BackendSQLite,
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
	}
	cfg.Storage = config.StorageConfig{Backend: config.BackendMemory}

	app, err := build(context.Background(), cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, app.stores.sqlite)
	require.NoError(t, app.Close(context.Background()))

	reopened, err := sqlitestore.Open(context.Background(), cfg.Database.SQLite.Path)
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestOpenStoresSQLiteCacheSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := config.DatabaseConfig{
		Backend: config.BackendSQLite,
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
	}

	first, err := OpenStores(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Cache.Put(ctx, novel.CacheEntry{WorkID: "novelpia/9", UnitID: "u1", Title: "One", Text: "body"}))
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := OpenStores(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, second.Close()) })
	entry, err := second.Cache.Get(ctx, "novelpia/9", "u1")
	require.NoError(t, err)
	require.Equal(t, "body", entry.Text)
	require.NoError(t, second.Ping(ctx))
}

func TestOpenStoresDefaultsToMemory(t *testing.T) {
	t.Parallel()

	stores, err := OpenStores(context.Background(), config.DatabaseConfig{}, nil)
	require.NoError(t, err)
	_, err = stores.Cache.Get(context.Background(), "novelpia/9", "u1")
	require.ErrorIs(t, err, novel.ErrCacheMiss)
	require.NoError(t, stores.Close())
}

func TestBuildFailsOnDuplicateMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := build(context.Background(), testConfig(t), zap.NewNop(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close(context.Background()) })

	_, err = build(context.Background(), testConfig(t), zap.NewNop(), reg)
	require.ErrorContains(t, err, "progress metrics")
}

func TestNewFetcherSkipsUnknownPlatforms(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	f := NewFetcher(cfg.Fetcher, nil, zap.NewNop())
	require.Positive(t, f.ListingPageSize(novel.PlatformNovelpia))
}
