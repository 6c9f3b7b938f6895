package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/api"
	"github.com/roach88/livesync/internal/broker"
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/model"
	"github.com/roach88/livesync/internal/testutil"
)

// recordingJournal keeps sessions and entries in memory.
type recordingJournal struct {
	mu       sync.Mutex
	sessions []journal.Session
	entries  []journal.Entry
}

func (j *recordingJournal) OpenSession(_ context.Context, s journal.Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions = append(j.sessions, s)
	return nil
}

func (j *recordingJournal) Append(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) Sessions() []journal.Session {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Session(nil), j.sessions...)
}

func (j *recordingJournal) Entries() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

// mutations counts cache writes after watch() was called.
type mutations struct {
	org      atomic.Int32
	channels atomic.Int32
	messages atomic.Int32
}

func (m *mutations) total() int32 {
	return m.org.Load() + m.channels.Load() + m.messages.Load()
}

// fixture runs an engine against an in-memory broker, a scripted API and
// a recording UI.
type fixture struct {
	t       *testing.T
	engine  *Engine
	broker  *broker.Memory
	fetcher *testutil.Fetcher
	ui      *testutil.UI
	journal *recordingJournal
}

func newFixture(t *testing.T, principal string, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		broker:  broker.NewMemory(),
		fetcher: testutil.NewFetcher(),
		ui:      testutil.NewUI(),
		journal: &recordingJournal{},
	}
	opts = append([]EngineOption{
		WithJournal(f.journal),
		WithSessionIDGenerator(NewFixedGenerator("s1", "s2", "s3", "s4", "s5")),
	}, opts...)
	f.engine = New(principal, f.broker, f.fetcher, f.ui, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func (f *fixture) drain() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(f.t, f.engine.Drain(ctx))
}

// script registers API responses for orgID with the given channels.
func (f *fixture) script(orgID string, channels ...model.Channel) {
	f.fetcher.RespondJSON(api.OrganizationPath(orgID), 200, model.Organization{ID: orgID, Name: "Org " + orgID})
	if channels == nil {
		channels = []model.Channel{}
	}
	f.fetcher.RespondJSON(api.ChannelsPath(orgID), 200, map[string]any{"channels": channels})
}

// open scripts orgID, opens it and waits for the initial loads.
func (f *fixture) open(orgID string, channels ...model.Channel) {
	f.t.Helper()
	f.script(orgID, channels...)
	require.NoError(f.t, f.engine.Open(orgID))
	f.drain()
}

// publish delivers an event on orgID's channel and waits for it to be
// processed. Returns how many handlers received it.
func (f *fixture) publish(orgID, event, payload string) int {
	f.t.Helper()
	n := f.broker.Publish(broker.ChannelName(orgID), event, []byte(payload))
	f.drain()
	return n
}

// lastEntry returns the most recent journal entry.
func (f *fixture) lastEntry() journal.Entry {
	f.t.Helper()
	entries := f.journal.Entries()
	require.NotEmpty(f.t, entries)
	return entries[len(entries)-1]
}

// watch starts counting cache writes from now on.
func (f *fixture) watch() *mutations {
	m := &mutations{}
	f.engine.Organization().Subscribe(func(*model.Organization) { m.org.Add(1) })
	f.engine.Channels().Subscribe(func([]model.Channel) { m.channels.Add(1) })
	f.engine.Messages().Subscribe(func(map[string][]model.Message) { m.messages.Add(1) })
	m.org.Store(0)
	m.channels.Store(0)
	m.messages.Store(0)
	return m
}

func messagesPath(orgID, channelID string) string {
	return api.ChannelsPath(orgID) + "/" + channelID + "/messages"
}
