package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/journal"
)

// seedJournal writes two sessions: s1 on o1 with three entries and s2 on
// o2 with one redelivered envelope.
func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livesync.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.OpenSession(ctx, journal.Session{ID: "s1", OrgID: "o1", PrincipalID: "u1"}))
	require.NoError(t, j.OpenSession(ctx, journal.Session{ID: "s2", OrgID: "o2", PrincipalID: "u1"}))

	entries := []journal.Entry{
		{Session: "s1", Seq: 1, OrgID: "o1", Event: "chat-message.insert", EntityID: "m1", Hash: "hash-m1",
			Outcome: journal.OutcomeApplied, Effects: []string{"messages.refresh:c1", "notify"}},
		{Session: "s1", Seq: 2, OrgID: "o1", Event: "chat-message.insert", EntityID: "m2", Hash: "hash-m2",
			Outcome: "self_origin"},
		{Session: "s1", Seq: 3, OrgID: "o1", Event: "pusher:subscription_succeeded", Outcome: "internal",
			Detail: "broker-internal event"},
		{Session: "s2", Seq: 4, OrgID: "o2", Event: "chat-message.insert", EntityID: "m1", Hash: "hash-m1",
			Outcome: "out_of_scope"},
	}
	for _, e := range entries {
		require.NoError(t, j.Append(ctx, e))
	}
	return path
}

func executeTrace(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--session", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "journal not found")
}

func TestTraceSessionAndHashExclusive(t *testing.T) {
	path := seedJournal(t)
	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path, "--session", "s1", "--hash", "hash-m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestTraceListSessions(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Sessions ===")
	assert.Contains(t, out, "s1  org=o1  entries=3  applied=1")
	assert.Contains(t, out, "s2  org=o2  entries=1  applied=0")
}

func TestTraceListSessionsJSON(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", path)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Sessions, 2)
	assert.Equal(t, "s1", resp.Data.Sessions[0].ID)
	assert.Equal(t, "o1", resp.Data.Sessions[0].OrgID)
	assert.Equal(t, 3, resp.Data.Sessions[0].Entries)
	assert.Equal(t, 4, resp.Data.Stats.TotalEntries)
	assert.Equal(t, 1, resp.Data.Stats.Applied)
}

func TestTraceEmptyJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livesync.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "(no sessions)")
}

func TestTraceSession(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: s1")
	assert.Contains(t, out, "Organization: o1  Principal: u1")
	assert.Contains(t, out, "[1] chat-message.insert m1 -> applied")
	assert.Contains(t, out, "messages.refresh:c1, notify")
	assert.Contains(t, out, "[2] chat-message.insert m2 -> self_origin")
	assert.Contains(t, out, "[3] pusher:subscription_succeeded -> internal")
	assert.Contains(t, out, "Dropped: internal=1 self_origin=1")
	assert.NotContains(t, out, "Detail:")
}

func TestTraceSessionVerbose(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text", Verbose: true}, "--db", path, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Detail: broker-internal event")
	assert.Contains(t, out, "Hash: hash-m1")
}

func TestTraceSessionOutcomeFilter(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "json"}, "--db", path, "--session", "s1", "--outcome", "self_origin")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "s1", resp.Session)

	var data struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	require.Len(t, data.Data.Entries, 1)
	assert.Equal(t, "m2", data.Data.Entries[0].EntityID)
	assert.Equal(t, map[string]int{"self_origin": 1}, data.Data.Stats.Dropped)
}

func TestTraceUnknownSession(t *testing.T) {
	path := seedJournal(t)

	_, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path, "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
}

func TestTraceByHash(t *testing.T) {
	path := seedJournal(t)

	out, err := executeTrace(t, &RootOptions{Format: "text"}, "--db", path, "--hash", "hash-m1")
	require.NoError(t, err)
	assert.Contains(t, out, "Envelope: hash-m1")
	assert.Contains(t, out, "s1 [1] chat-message.insert m1 -> applied")
	assert.Contains(t, out, "s2 [4] chat-message.insert m1 -> out_of_scope")
	assert.Contains(t, out, "Total:   2")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "s1", truncateID("s1"))
	assert.Equal(t, "0192f7c4...9e3a1b2c", truncateID("0192f7c4-aaaa-7bbb-8ccc-dddd9e3a1b2c"))
}
