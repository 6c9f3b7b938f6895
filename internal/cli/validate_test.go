package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `principal_id: u1
organization_id: o1
api:
  base_url: https://api.example.com
  token: secret
broker:
  key: app-key
  cluster: eu
journal:
  path: livesync.db
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, "livesync.yaml", validConfig)

	out, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
	assert.Contains(t, out, "principal:    u1")
	assert.Contains(t, out, "organization: o1")
	assert.Contains(t, out, "pusher key=app-key cluster=eu")
	assert.Contains(t, out, "page size:    100")
	assert.NotContains(t, out, "secret")
}

func TestValidateValidConfigJSON(t *testing.T) {
	path := writeConfig(t, "livesync.yaml", validConfig)

	out, err := executeValidate(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.NotNil(t, resp.Data.Config)
	assert.Equal(t, "u1", resp.Data.Config.PrincipalID)
	assert.True(t, resp.Data.Config.Authenticated)
	assert.Equal(t, "livesync.db", resp.Data.Config.Journal)
	assert.NotContains(t, out, "secret")
}

func TestValidateCUEConfig(t *testing.T) {
	path := writeConfig(t, "livesync.cue", `
principal_id: "u1"
api: base_url: "http://localhost:8080"
broker: url: "ws://localhost:6001/app/local"
messages: page_size: 25
`)

	out, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "broker:       ws://localhost:6001/app/local")
	assert.Contains(t, out, "page size:    25")
	assert.NotContains(t, out, "organization:")
}

func TestValidateInvalidConfig(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantField string
	}{
		{
			name:      "missing_principal",
			content:   "api:\n  base_url: https://api.example.com\nbroker:\n  url: ws://x\n",
			wantField: "principal_id",
		},
		{
			name:      "bad_page_size",
			content:   validConfig + "messages:\n  page_size: 0\n",
			wantField: "messages.page_size",
		},
		{
			name:      "no_broker_endpoint",
			content:   "principal_id: u1\napi:\n  base_url: https://api.example.com\n",
			wantField: "broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "livesync.yaml", tt.content)

			out, err := executeValidate(t, "text", path)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "✗ Validation failed")
			assert.Contains(t, out, ErrCodeConfigInvalid)
			assert.Contains(t, out, tt.wantField)
		})
	}
}

func TestValidateInvalidConfigJSON(t *testing.T) {
	path := writeConfig(t, "livesync.yaml", validConfig+"unknown_field: 1\n")

	out, err := executeValidate(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfigInvalid, resp.Error.Code)
}

func TestValidateMissingFile(t *testing.T) {
	out, err := executeValidate(t, "text", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
	assert.Contains(t, err.Error(), "config file not found")
}

func TestValidateMissingArgs(t *testing.T) {
	_, err := executeValidate(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
