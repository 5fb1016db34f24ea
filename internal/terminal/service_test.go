package terminal

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

func setupTerminalService(t *testing.T) (*Service, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "terminal.db")
	svc := openTerminalService(t, path)
	return svc, path
}

func openTerminalService(t *testing.T, path string) *Service {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Output: discard{}})
	client, err := db.Open(context.Background(), config.StoreConfig{Path: path}, logg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	schema := `
CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at DATETIME
);`
	require.NoError(t, client.DB().Exec(schema).Error)

	svc, err := NewService(client, logg)
	require.NoError(t, err)
	return svc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestEnsureIDCreatesOnce(t *testing.T) {
	svc, _ := setupTerminalService(t)
	ctx := context.Background()

	first, err := svc.EnsureID(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "till-"))

	second, err := svc.EnsureID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identity must be stable across calls")
}

func TestEnsureIDConcurrentInitializationConverges(t *testing.T) {
	svc, _ := setupTerminalService(t)

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = svc.EnsureID(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "every initialization must converge to one id")
	}

	persisted, err := svc.LoadID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids[0], persisted)
}

func TestEnsureIDSurvivesReopen(t *testing.T) {
	svc, path := setupTerminalService(t)

	id, err := svc.EnsureID(context.Background())
	require.NoError(t, err)

	reopened := openTerminalService(t, path)
	again, err := reopened.EnsureID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again, "identity must survive a restart")
}

func TestLoadIDWithoutIdentity(t *testing.T) {
	svc, _ := setupTerminalService(t)

	id, err := svc.LoadID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id, "loading must not mint an identity")
}

func TestLoadIDAfterEnsure(t *testing.T) {
	svc, _ := setupTerminalService(t)
	ctx := context.Background()

	created, err := svc.EnsureID(ctx)
	require.NoError(t, err)

	loaded, err := svc.LoadID(ctx)
	require.NoError(t, err)
	assert.Equal(t, created, loaded)
}
