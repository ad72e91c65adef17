package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mir00r/subscriber-dbi/internal/config"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
	"github.com/mir00r/subscriber-dbi/internal/jsondb"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const defaultOnly = `[{"id": -1, "qci": 9, "priority": 1, "pre_emption_capability": 0, "pre_emption_vulnerability": 0}]`

const twoProfiles = `[
	{"id": -1, "qci": 9, "priority": 1, "pre_emption_capability": 0, "pre_emption_vulnerability": 0},
	{"id": 4, "qci": 5, "priority": 2, "pre_emption_capability": 0, "pre_emption_vulnerability": 0}
]`

type reloadResult struct {
	apn string
	err error
}

func startReloader(t *testing.T, profiles *jsondb.Backend, sources []config.ProfileSource) (*ProfileReloadService, <-chan reloadResult) {
	t.Helper()

	prs, err := NewProfileReloadService(profiles, sources, nil)
	require.NoError(t, err)
	prs.SetDebounce(50 * time.Millisecond)

	results := make(chan reloadResult, 16)
	prs.RegisterReloadCallback(func(apn string, err error) {
		results <- reloadResult{apn, err}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- prs.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return prs, results
}

func waitResult(t *testing.T, results <-chan reloadResult) reloadResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no reload happened")
		return reloadResult{}
	}
}

func TestProfileReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "internet.json")
	require.NoError(t, os.WriteFile(path, []byte(defaultOnly), 0o644))

	profiles := jsondb.New(0, nil)
	require.NoError(t, profiles.Load(context.Background(), path, "internet"))

	prs, results := startReloader(t, profiles, []config.ProfileSource{{APN: "internet", File: path}})

	require.NoError(t, os.WriteFile(path, []byte(twoProfiles), 0o644))
	r := waitResult(t, results)
	assert.Equal(t, "internet", r.apn)
	require.NoError(t, r.err)
	assert.Equal(t, 2, profiles.Stats().Profiles["internet"])

	require.NoError(t, os.WriteFile(path, []byte(`[{"id": 1}]`), 0o644))
	r = waitResult(t, results)
	assert.ErrorIs(t, r.err, dbierrors.ErrMissingField)
	assert.Equal(t, 2, profiles.Stats().Profiles["internet"], "rejected document keeps the old profiles")

	stats := prs.GetReloadStats()
	assert.GreaterOrEqual(t, stats["reloads"].(int), 2)
	assert.GreaterOrEqual(t, stats["failures"].(int), 1)
}

func TestProfileReloadIgnoresUnwatchedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "internet.json")
	require.NoError(t, os.WriteFile(path, []byte(defaultOnly), 0o644))

	profiles := jsondb.New(0, nil)
	_, results := startReloader(t, profiles, []config.ProfileSource{{APN: "internet", File: path}})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(twoProfiles), 0o644))
	select {
	case r := <-results:
		t.Fatalf("unexpected reload of %s", r.apn)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Empty(t, profiles.APNs())
}

func TestProfileReloadSharedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.json")
	require.NoError(t, os.WriteFile(path, []byte(defaultOnly), 0o644))

	profiles := jsondb.New(0, nil)
	_, results := startReloader(t, profiles, []config.ProfileSource{
		{APN: "internet", File: path},
		{APN: "*", File: path},
	})

	require.NoError(t, os.WriteFile(path, []byte(twoProfiles), 0o644))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := waitResult(t, results)
		require.NoError(t, r.err)
		seen[r.apn] = true
	}
	assert.Equal(t, map[string]bool{"internet": true, "*": true}, seen)
	assert.Equal(t, []string{"*", "internet"}, profiles.APNs())
}

func TestNewProfileReloadServiceMissingDirectory(t *testing.T) {
	_, err := NewProfileReloadService(jsondb.New(0, nil), []config.ProfileSource{
		{APN: "internet", File: filepath.Join(t.TempDir(), "missing", "internet.json")},
	}, nil)
	assert.Error(t, err)
}
