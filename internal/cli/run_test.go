package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/broker"
	"github.com/roach88/livesync/internal/config"
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/testutil"
)

// memoryTransport is an in-process broker the run command can own.
type memoryTransport struct {
	*broker.Memory
	done      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{
		Memory: broker.NewMemory(),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (m *memoryTransport) Done() <-chan struct{} { return m.done }

func (m *memoryTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// drop simulates the server closing the connection.
func (m *memoryTransport) drop() { close(m.done) }

// fakeAPI serves one organization with a single channel.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/organisations/o1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"o1","name":"Acme"}`)
	})
	mux.HandleFunc("/organisations/o1/channels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"channels":[{"id":"c1","name":"general"}]}`)
	})
	mux.HandleFunc("/organisations/o1/channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"m1","channel_id":"c1","type":"text","content":"hi","user":{"id":"u2","username":"bob"}}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runConfig(t *testing.T, apiURL, journalPath string) string {
	t.Helper()
	content := fmt.Sprintf(`principal_id: u1
organization_id: o1
api:
  base_url: %s
broker:
  url: ws://127.0.0.1:1/app/test
`, apiURL)
	if journalPath != "" {
		content += fmt.Sprintf("journal:\n  path: %s\n", journalPath)
	}
	return writeConfig(t, "livesync.yaml", content)
}

// startRun executes the run command in the background. The returned
// channel yields its error.
func startRun(ctx context.Context, t *testing.T, opts *RunOptions, args ...string) (<-chan error, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRunCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	return done, buf
}

func subscribedTo(m *memoryTransport, orgID string) func() bool {
	return func() bool {
		return slices.Contains(m.Subscribed(), broker.ChannelName(orgID))
	}
}

func TestRunMissingConfigFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "config")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, "livesync.yaml", "principal_id: u1\n")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunNoOrganization(t *testing.T) {
	path := writeConfig(t, "livesync.yaml", `principal_id: u1
api:
  base_url: http://127.0.0.1:1
broker:
  url: ws://127.0.0.1:1/app/test
`)
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}

	done, _ := startRun(context.Background(), t, opts, "--config", path)
	err := <-done
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no organization")
}

func TestRunDialFailure(t *testing.T) {
	path := runConfig(t, "http://127.0.0.1:1", "")
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Dial: func(context.Context, broker.PusherConfig) (Transport, error) {
			return nil, errors.New("connection refused")
		},
	}

	done, _ := startRun(context.Background(), t, opts, "--config", path)
	err := <-done
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to connect to broker: connection refused")
}

func TestRunSyncsUntilCancelled(t *testing.T) {
	srv := fakeAPI(t)
	journalPath := filepath.Join(t.TempDir(), "livesync.db")
	path := runConfig(t, srv.URL, journalPath)

	transport := newMemoryTransport()
	ui := testutil.NewUI()
	var gotCfg broker.PusherConfig
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Dial: func(_ context.Context, cfg broker.PusherConfig) (Transport, error) {
			gotCfg = cfg
			return transport, nil
		},
		UI: ui,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, out := startRun(ctx, t, opts, "--config", path)

	require.Eventually(t, subscribedTo(transport, "o1"), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ws://127.0.0.1:1/app/test", gotCfg.URL)

	// The channel list loads asynchronously; until it lands the insert
	// has no name to notify with, so keep publishing.
	insert := []byte(`{"id":"m1","doc":{"channel_id":"c1","type":"text","content":"hi","owner_id":"u2"}}`)
	require.Eventually(t, func() bool {
		if len(ui.Notifications()) > 0 {
			return true
		}
		transport.Publish(broker.ChannelName("o1"), "chat-message.insert", insert)
		return false
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, "New text message", ui.Notifications()[0].Title)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Contains(t, out.String(), "Syncing organization o1 as u1.")
	assert.Empty(t, transport.Subscribed(), "shutdown unsubscribes")
	select {
	case <-transport.closed:
	default:
		t.Fatal("transport not closed")
	}

	j, err := journal.Open(journalPath)
	require.NoError(t, err)
	defer j.Close()
	sessions, err := j.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "o1", sessions[0].OrgID)
	assert.Equal(t, "u1", sessions[0].PrincipalID)

	n, err := j.CountEntries(context.Background(), map[string]any{
		"event":   "chat-message.insert",
		"outcome": journal.OutcomeApplied,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestRunOrgFlagOverridesConfig(t *testing.T) {
	srv := fakeAPI(t)
	path := runConfig(t, srv.URL, "")

	transport := newMemoryTransport()
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Dial: func(context.Context, broker.PusherConfig) (Transport, error) {
			return transport, nil
		},
		UI: testutil.NewUI(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, _ := startRun(ctx, t, opts, "--config", path, "--org", "o2")

	require.Eventually(t, subscribedTo(transport, "o2"), 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunBrokerConnectionLost(t *testing.T) {
	srv := fakeAPI(t)
	path := runConfig(t, srv.URL, "")

	transport := newMemoryTransport()
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Dial: func(context.Context, broker.PusherConfig) (Transport, error) {
			return transport, nil
		},
		UI: testutil.NewUI(),
	}

	done, _ := startRun(context.Background(), t, opts, "--config", path)
	require.Eventually(t, subscribedTo(transport, "o1"), 2*time.Second, 5*time.Millisecond)

	transport.drop()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "broker connection lost")
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		verbose bool
		wantOut bool
		wantIn  string
	}{
		{"info_text_hides_debug", "info", "text", false, false, ""},
		{"debug_level", "debug", "text", false, true, "msg=probe"},
		{"verbose_forces_debug", "error", "text", true, true, "msg=probe"},
		{"json_format", "debug", "json", false, true, `"msg":"probe"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := newLogger(config.LogConfig{Level: tt.level, Format: tt.format}, tt.verbose, buf)
			logger.Debug("probe")
			if tt.wantOut {
				assert.Contains(t, buf.String(), tt.wantIn)
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
