package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/livesync/internal/broker"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Subscribe(ctx context.Context, name string) (broker.Channel, error) {
	args := m.Called(ctx, name)
	ch, _ := args.Get(0).(broker.Channel)
	return ch, args.Error(1)
}

func (m *mockBroker) Unsubscribe(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

type mockChannel struct {
	mock.Mock
	name string
}

func (c *mockChannel) Name() string { return c.name }

func (c *mockChannel) BindGlobal(h broker.Handler) { c.Called(h) }

func (c *mockChannel) UnbindAll() { c.Called() }

func nopBind(string, string) broker.Handler { return func(string, []byte) {} }

func TestConnectionManager_SubscribeAndSwitch(t *testing.T) {
	ctx := context.Background()
	b := &mockBroker{}
	chA := &mockChannel{name: "organisation-a"}
	chB := &mockChannel{name: "organisation-b"}

	b.On("Subscribe", ctx, "organisation-a").Return(chA, nil).Once()
	chA.On("BindGlobal", mock.Anything).Once()

	m := NewConnectionManager(b, NewFixedGenerator("s1", "s2"), nopBind)
	conn, err := m.Subscribe(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", conn.OrganizationID)
	assert.Equal(t, "s1", conn.Session)
	assert.Equal(t, "a", m.ActiveOrganization())

	// Switching unbinds the old handlers before unsubscribing.
	var order []string
	chA.On("UnbindAll").Run(func(mock.Arguments) { order = append(order, "unbind") }).Once()
	b.On("Unsubscribe", ctx, "organisation-a").Run(func(mock.Arguments) { order = append(order, "unsubscribe") }).Return(nil).Once()
	b.On("Subscribe", ctx, "organisation-b").Run(func(mock.Arguments) { order = append(order, "subscribe") }).Return(chB, nil).Once()
	chB.On("BindGlobal", mock.Anything).Once()

	conn, err = m.Subscribe(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "s2", conn.Session)
	assert.Equal(t, []string{"unbind", "unsubscribe", "subscribe"}, order)

	b.AssertExpectations(t)
	chA.AssertExpectations(t)
	chB.AssertExpectations(t)
}

func TestConnectionManager_BindCalledPerSubscription(t *testing.T) {
	var bound []string
	bind := func(orgID, session string) broker.Handler {
		bound = append(bound, orgID+"/"+session)
		return func(string, []byte) {}
	}

	m := NewConnectionManager(broker.NewMemory(), NewFixedGenerator("s1", "s2", "s3"), bind)
	for _, org := range []string{"a", "a", "b"} {
		_, err := m.Subscribe(context.Background(), org)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a/s1", "a/s2", "b/s3"}, bound)
}

func TestConnectionManager_SubscribeFailure(t *testing.T) {
	ctx := context.Background()
	b := &mockBroker{}
	chA := &mockChannel{name: "organisation-a"}

	b.On("Subscribe", ctx, "organisation-a").Return(chA, nil).Once()
	chA.On("BindGlobal", mock.Anything).Once()
	chA.On("UnbindAll").Once()
	b.On("Unsubscribe", ctx, "organisation-a").Return(nil).Once()
	b.On("Subscribe", ctx, "organisation-b").Return(nil, errors.New("connection refused")).Once()

	m := NewConnectionManager(b, NewFixedGenerator("s1"), nopBind)
	_, err := m.Subscribe(ctx, "a")
	require.NoError(t, err)

	_, err = m.Subscribe(ctx, "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organisation-b")

	_, ok := m.Active()
	assert.False(t, ok, "old connection gone, no replacement")
	assert.Empty(t, m.ActiveOrganization())
	b.AssertExpectations(t)
}

func TestConnectionManager_UnsubscribeErrorStillTearsDown(t *testing.T) {
	ctx := context.Background()
	b := &mockBroker{}
	ch := &mockChannel{name: "organisation-a"}

	b.On("Subscribe", ctx, "organisation-a").Return(ch, nil).Once()
	ch.On("BindGlobal", mock.Anything).Once()
	ch.On("UnbindAll").Once()
	b.On("Unsubscribe", ctx, "organisation-a").Return(errors.New("socket closed")).Once()

	m := NewConnectionManager(b, NewFixedGenerator("s1"), nopBind)
	_, err := m.Subscribe(ctx, "a")
	require.NoError(t, err)

	m.Unsubscribe(ctx)
	_, ok := m.Active()
	assert.False(t, ok)

	// Nothing left to tear down.
	m.Unsubscribe(ctx)
	b.AssertExpectations(t)
	ch.AssertExpectations(t)
}

func TestConnectionManager_MemoryBrokerLifecycle(t *testing.T) {
	mem := broker.NewMemory()
	m := NewConnectionManager(mem, NewFixedGenerator("s1", "s2"), nopBind)
	ctx := context.Background()

	_, err := m.Subscribe(ctx, "a")
	require.NoError(t, err)
	_, err = m.Subscribe(ctx, "b")
	require.NoError(t, err)
	m.Unsubscribe(ctx)

	assert.Equal(t, []string{
		"subscribe:organisation-a",
		"unsubscribe:organisation-a",
		"subscribe:organisation-b",
		"unsubscribe:organisation-b",
	}, mem.Ops())
	assert.Empty(t, mem.Subscribed())
}
