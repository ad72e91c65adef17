package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/subscriber-dbi/internal/config"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

const internetDoc = `[
	{"id": 0, "qci": 9, "ambr": {"up": 1000, "down": 2000}, "priority": 8,
	 "pre_emption_capability": 0, "pre_emption_vulnerability": 1},
	{"id": -1, "qci": 6, "priority": 3, "pre_emption_capability": 1, "pre_emption_vulnerability": 1}
]`

const subscriberDoc = `{
	"imsi": "001010000000001",
	"msisdn": ["4412345"],
	"ambr": {"uplink": 1000, "downlink": 2000},
	"security": {"k": "AAECAwQFBgcICQoLDA0ODw==", "amf": "gAA=", "sqn": 64}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	good := writeFile(t, "internet.json", internetDoc)
	bad := writeFile(t, "bad.json", `[{"id": 1}]`)

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (2 profiles)")

	out, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, bad+": invalid")
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestResolveCommand(t *testing.T) {
	doc := writeFile(t, "internet.json", internetDoc)

	out, err := execute(t, "resolve", "--file", doc, "--apn", "internet", "--cc", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `"index": 9`)
	assert.Contains(t, out, `"name": "json_profile"`)

	out, err = execute(t, "resolve", "--file", doc, "--apn", "internet", "--cc", "42")
	require.NoError(t, err)
	assert.Contains(t, out, `"index": 6`)

	_, err = execute(t, "resolve", "--file", doc, "--apn", "internet", "--dnn", "ims")
	assert.ErrorIs(t, err, dbierrors.ErrNoAPNProfile)
}

func TestTokenCommand(t *testing.T) {
	enabled := writeFile(t, "dbi.yaml", `
admin:
  jwt:
    enabled: true
    secret: test-secret
`)
	out, err := execute(t, "--config", enabled, "token", "--subject", "ops")
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(strings.TrimSpace(out), ".")))

	disabled := writeFile(t, "dbi.yaml", "logging:\n  level: warn\n")
	_, err = execute(t, "--config", disabled, "token")
	assert.EqualError(t, err, "jwt authentication is disabled")
}

func TestSubscriberCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgFile := writeFile(t, "dbi.yaml", fmt.Sprintf("docdb:\n  enabled: true\n  addr: %s\n", mr.Addr()))
	doc := writeFile(t, "sub.json", subscriberDoc)

	out, err := execute(t, "--config", cfgFile, "subscriber", "put", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "stored 001010000000001")
	assert.True(t, mr.Exists("dbi:subscriber:001010000000001"))
	assert.True(t, mr.Exists("dbi:msisdn:4412345"))

	out, err = execute(t, "--config", cfgFile, "subscriber", "get", "imsi-001010000000001")
	require.NoError(t, err)
	assert.Contains(t, out, `"imsi": "001010000000001"`)

	_, err = execute(t, "--config", cfgFile, "subscriber", "delete", "001010000000001")
	require.NoError(t, err)
	assert.False(t, mr.Exists("dbi:subscriber:001010000000001"))

	_, err = execute(t, "--config", writeFile(t, "off.yaml", "grpc:\n  enabled: false\n"), "subscriber", "get", "1")
	assert.EqualError(t, err, "docdb is disabled")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DBI.Profiles = []config.ProfileSource{{APN: "internet", File: writeFile(t, "internet.json", internetDoc)}}
	return cfg
}

func TestNewAppServesSelectedBackend(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.close()

	require.NotNil(t, a.handler)
	require.NotNil(t, a.grpc)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions?dnn=internet&charging_characteristic=0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"json_profile"`)

	a.close()
	_, selected := a.registry.Selected()
	assert.False(t, selected)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewAppWithRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.DBI.Interface = config.InterfaceRedis
	cfg.DocDB.Enabled = true
	cfg.DocDB.Addr = mr.Addr()
	cfg.GRPC.Enabled = false

	a, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.close()

	b, ok := a.registry.Selected()
	require.True(t, ok)
	assert.Equal(t, "redis", b.Name())
	assert.Nil(t, a.grpc)
}

func TestNewAppFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBI.Profiles[0].File = filepath.Join(t.TempDir(), "missing.json")
	_, err := newApp(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, dbierrors.ErrIO)

	cfg = testConfig(t)
	cfg.DBI.Interface = "mongo"
	_, err = newApp(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, dbierrors.ErrBackendNotFound)

	cfg = testConfig(t)
	cfg.Admin.JWT.Enabled = true
	_, err = newApp(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.Enabled = false
	cfg.GRPC.Enabled = false
	cfg.DBI.WatchProfiles = true

	a, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, a.reloader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.run(ctx))

	_, selected := a.registry.Selected()
	assert.False(t, selected)
}
