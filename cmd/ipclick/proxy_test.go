package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runProxy(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := proxySubcommand(&configPath)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestProxyCommandFromFlags(t *testing.T) {
	out, err := runProxy(t, "", "--host", "gw.example.com", "--port", "8000", "--key", "k", "--secret", "s", "--ttl", "60")
	require.NoError(t, err)
	assert.Equal(t, "http://k:s:T60@gw.example.com:8000", out)
}

func TestProxyCommandMergesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipclick.ini")
	ini := "[proxy]\nhost = gw.example.com\nport = 8000\nauth_key = k\nauth_secret = s\n"
	require.NoError(t, os.WriteFile(path, []byte(ini), 0o644))

	out, err := runProxy(t, path, "--country", "US")
	require.NoError(t, err)
	assert.Equal(t, "http://k:s:AUS@gw.example.com:8000", out)
}
