package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", config.Listen)
	assert.Equal(t, "sessions", config.SessionsDir)
	assert.Equal(t, defaultAudience, config.OAuth.Audience)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
public_url: https://charges.example.com
oauth:
  client_id: abc
  audience: https://fleet-api.prd.eu.vn.cloud.tesla.com
`), 0600))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", config.Listen)
	assert.Equal(t, "https://charges.example.com", config.PublicURL)
	assert.Equal(t, "abc", config.OAuth.ClientID)
	assert.Equal(t, "https://fleet-api.prd.eu.vn.cloud.tesla.com", config.OAuth.Audience)
	assert.NoError(t, config.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvListen, ":7070")
	t.Setenv(EnvClientID, "env-client")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", config.Listen)
	assert.Equal(t, "env-client", config.OAuth.ClientID)
}

func TestValidate(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Error(t, config.Validate(), "client id missing")

	config.OAuth.ClientID = "abc"
	assert.Error(t, config.Validate(), "public URL missing")

	config.PublicURL = "https://charges.example.com"
	assert.NoError(t, config.Validate())
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}
