package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/indexer"
	"datalayr/native/datastore"
	"datalayr/observability/logging"
)

type staticSecret string

func (s staticSecret) Get() (string, error) { return string(s), nil }

func newTestCLI() (*cli, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &cli{
		out:     out,
		secrets: func(string) secretSource { return staticSecret("correct horse") },
		client:  http.DefaultClient,
	}, out
}

func TestDigestCommand(t *testing.T) {
	c, out := newTestCLI()
	content := strings.Repeat("11", 32)
	require.NoError(t, c.run([]string{"digest", "-dump", "3", "-content", "0x" + content, "-bytes", "64"}))

	var raw [32]byte
	for i := range raw {
		raw[i] = 0x11
	}
	expected := datastore.SignedDigest(3, raw, 64)
	require.Equal(t, "0x"+hex.EncodeToString(expected[:]), strings.TrimSpace(out.String()))

	require.Error(t, c.run([]string{"digest", "-content", "0x" + content}))
	require.Error(t, c.run([]string{"digest", "-dump", "1", "-content", "0xabcd"}))
}

func TestKeygenAndSign(t *testing.T) {
	c, out := newTestCLI()
	path := filepath.Join(t.TempDir(), "op.keystore")
	require.NoError(t, c.run([]string{"keygen", "-keystore", path}))

	var key map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &key))
	require.True(t, strings.HasPrefix(key["address"], "dl1"))

	require.Error(t, c.run([]string{"keygen", "-keystore", path}))

	out.Reset()
	require.NoError(t, c.run([]string{"sign", "-keystore", path, "-dump", "1", "-content", "0x" + strings.Repeat("ab", 32), "-bytes", "10"}))
	var sig map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &sig))
	require.Equal(t, key["address"], sig["signer"])
	require.Len(t, sig["signature"], 2+65*2)
}

func TestCallUsesConfigEndpoint(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		_ = json.Unmarshal(body, &req)
		gotMethod, _ = req["method"].(string)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"height":7}}`))
	}))
	defer srv.Close()

	c, out := newTestCLI()
	require.NoError(t, c.run([]string{"call", "-endpoint", srv.URL, "chain_height"}))
	require.Equal(t, "chain_height", gotMethod)
	require.Contains(t, out.String(), `"height": 7`)

	require.Error(t, c.run([]string{"call", "-endpoint", srv.URL, "-params", "{bad", "chain_height"}))
}

func TestResolveEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \":9000\"\nDataDir = \"x\"\n"), 0o600))
	url, err := resolveEndpoint("", path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9000/rpc", url)

	url, err = resolveEndpoint("http://node/rpc", path)
	require.NoError(t, err)
	require.Equal(t, "http://node/rpc", url)

	_, err = resolveEndpoint("", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	c, out := newTestCLI()
	require.Error(t, c.run([]string{"frobnicate"}))
	require.Contains(t, out.String(), "Usage: dlctl")
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "events.db")
	idx, err := indexer.Open(dsn, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, idx.Store(context.Background(),
		events.Envelope{Height: 2, Seq: 0, Type: "datastore.initialized", Payload: &types.Event{Type: "datastore.initialized"}},
		events.Envelope{Height: 3, Seq: 0, Type: "payout.created"},
	))
	require.NoError(t, idx.Close())

	c, out := newTestCLI()
	outPath := filepath.Join(dir, "export.parquet")
	require.NoError(t, c.run([]string{"export", "-dsn", dsn, "-out", outPath, "-module", "payout"}))
	require.Contains(t, out.String(), "wrote 1 events")
	info, err := os.Stat(outPath)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("ListenAddress = \":8545\"\n"), 0o600))
	require.ErrorContains(t, c.run([]string{"export", "-config", configPath}), "no event index")
}
