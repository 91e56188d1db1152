package cmd

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/config"
	"github.com/otherjamesbrown/minutes/credentials"
	"github.com/otherjamesbrown/minutes/migrations"
	"github.com/otherjamesbrown/minutes/pkg/db"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// isolateEnv points every credential and config lookup at a temp directory
// and clears provider keys from the environment.
func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("MINUTES_HOME", home)
	t.Setenv(credentials.EnvEncryptionKey, testEncryptionKey)
	for _, v := range []string{
		"MINUTES_OPENAI_API_KEY", "OPENAI_API_KEY",
		"MINUTES_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"MINUTES_BLOB_SIGNING_KEY",
	} {
		t.Setenv(v, "")
	}
	return home
}

func memoryConfig(t *testing.T) *config.ServiceConfig {
	t.Helper()
	cfg := config.DefaultServiceConfig()
	cfg.Backend = config.BackendConfig{Store: config.StoreMemory, Queue: config.QueueMemory}
	cfg.Blob.Root = filepath.Join(t.TempDir(), "blobs")
	cfg.Workers.Count = 1
	return cfg
}

func TestBuildRuntime_Memory(t *testing.T) {
	isolateEnv(t)
	cfg := memoryConfig(t)

	rt, err := buildRuntime(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.orch)
	assert.NotNil(t, rt.store)
	assert.NotNil(t, rt.queue)
	assert.NotNil(t, rt.blobs)
	assert.Nil(t, rt.pool)
	assert.Nil(t, rt.redis)
	assert.Empty(t, rt.healthChecks())

	families, err := rt.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuildRuntime_StartWorkers(t *testing.T) {
	isolateEnv(t)
	rt, err := buildRuntime(context.Background(), memoryConfig(t), logging.NewNopLogger())
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pool, err := rt.startWorkers(ctx)
	require.NoError(t, err)
	cancel()

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker pool did not stop")
	}
}

func TestBuildRuntime_UnknownBackends(t *testing.T) {
	isolateEnv(t)

	cfg := memoryConfig(t)
	cfg.Backend.Store = "sqlite"
	_, err := buildRuntime(context.Background(), cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, `unknown job store "sqlite"`)

	cfg = memoryConfig(t)
	cfg.Backend.Queue = "kafka"
	_, err = buildRuntime(context.Background(), cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, `unknown queue "kafka"`)
}

func TestBuildRuntime_BadDictionary(t *testing.T) {
	isolateEnv(t)
	cfg := memoryConfig(t)
	cfg.Pipeline.DictionaryPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := buildRuntime(context.Background(), cfg, logging.NewNopLogger())
	assert.ErrorContains(t, err, "loading dictionary")
}

func TestBuildProviders(t *testing.T) {
	isolateEnv(t)
	cfg := config.DefaultServiceConfig()
	opts := providers.ChainOptions{Retry: providers.DefaultRetryPolicy()}

	set, err := buildProviders(context.Background(), cfg, nil, opts, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "none", set.llm.Name())
	assert.Nil(t, set.grammar)

	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	cfg.Providers.LanguageTool.URL = "http://localhost:8010"
	set, err = buildProviders(context.Background(), cfg, nil, opts, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "openai", set.llm.Name())
	assert.NotNil(t, set.grammar)
}

func TestBuildProviders_StoredKey(t *testing.T) {
	home := isolateEnv(t)
	store, err := credentials.NewStoreWithKeyProvider(home, credentials.NewEnvKeyProvider(credentials.EnvEncryptionKey))
	require.NoError(t, err)
	require.NoError(t, store.Set(credentials.KeyGemini, "gm-stored"))

	set, err := buildProviders(context.Background(), config.DefaultServiceConfig(), store,
		providers.ChainOptions{Retry: providers.DefaultRetryPolicy()}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, "gemini", set.llm.Name())
	assert.Equal(t, "gemini", set.ocr.Name())
}

func TestOpenBlobs_SigningKey(t *testing.T) {
	home := isolateEnv(t)
	cfg := memoryConfig(t)

	// Generated key when none is configured.
	_, err := openBlobs(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)

	store, err := credentials.NewStoreWithKeyProvider(home, credentials.NewEnvKeyProvider(credentials.EnvEncryptionKey))
	require.NoError(t, err)
	require.NoError(t, store.Set(credentials.KeyBlobSigner, "stored-signing-key"))

	a, err := openBlobs(cfg, store, logging.NewNopLogger())
	require.NoError(t, err)
	cfg.Blob.SigningKey = "stored-signing-key"
	b, err := openBlobs(cfg, nil, logging.NewNopLogger())
	require.NoError(t, err)

	signed, err := a.Presign("narration/x.wav", time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	q := u.Query()
	assert.True(t, b.Verify("narration/x.wav", q.Get("expires"), q.Get("sig")))
}

func TestLoadDictionary(t *testing.T) {
	dict, err := loadDictionary("")
	require.NoError(t, err)
	assert.NotNil(t, dict)

	path := filepath.Join(t.TempDir(), "dict.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries:\n  - canonical: Zyntra\n    kind: organization\n"), 0o600))
	dict, err = loadDictionary(path)
	require.NoError(t, err)
	_, ok := dict.Lookup("Zyntra")
	assert.True(t, ok)
}

func TestMigrationFS(t *testing.T) {
	cfg := &db.Config{}
	assert.Equal(t, migrations.FS, migrationFS(cfg))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("SELECT 1;"), 0o600))
	cfg.MigrationsDir = dir
	fsys := migrationFS(cfg)
	_, err := fsys.Open("001_init.sql")
	assert.NoError(t, err)
}

func TestMigrate_ConnectError(t *testing.T) {
	deps := &MigrateCommandDeps{
		LoadConfig: func() (*config.ServiceConfig, error) { return config.DefaultServiceConfig(), nil },
		ConnectToDB: func(context.Context, *db.Config) (*pgxpool.Pool, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := run(t, NewMigrateCommand(deps))
	assert.ErrorContains(t, err, "connecting to database: connection refused")

	_, err = run(t, NewMigrateCommand(deps), "--status")
	assert.ErrorContains(t, err, "connection refused")
}

func TestMigrate_DirFlag(t *testing.T) {
	var seen string
	deps := &MigrateCommandDeps{
		LoadConfig: func() (*config.ServiceConfig, error) { return config.DefaultServiceConfig(), nil },
		ConnectToDB: func(_ context.Context, cfg *db.Config) (*pgxpool.Pool, error) {
			seen = cfg.MigrationsDir
			return nil, errors.New("stop")
		},
	}
	_, err := run(t, NewMigrateCommand(deps), "--dir", "/srv/migrations")
	require.Error(t, err)
	assert.Equal(t, "/srv/migrations", seen)
}

func TestNewMigrateCommand_Flags(t *testing.T) {
	cmd := NewMigrateCommand(nil)
	for _, name := range []string{"dry-run", "target", "status", "dir", "output"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag --%s", name)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	require.NoError(t, fstest.TestFS(migrations.FS, "001_jobs.sql"))
}
