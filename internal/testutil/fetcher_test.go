package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Scripted(t *testing.T) {
	f := NewFetcher()
	f.Respond("/a", 200, `{"ok":true}`)
	f.RespondJSON("/b", 201, map[string]int{"n": 1})

	status, body, err := f.Fetch(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	status, body, err = f.Fetch(context.Background(), "/b")
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	assert.JSONEq(t, `{"n":1}`, string(body))
}

func TestFetcher_UnknownPathIs404(t *testing.T) {
	status, body, err := NewFetcher().Fetch(context.Background(), "/missing")
	require.NoError(t, err)
	assert.Equal(t, 404, status)
	assert.Contains(t, string(body), "not found")
}

func TestFetcher_QueryFallbackAndCalls(t *testing.T) {
	f := NewFetcher()
	f.Respond("/list", 200, `[]`)

	status, _, err := f.Fetch(context.Background(), "/list?skip=0&take=10")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	_, _, _ = f.Fetch(context.Background(), "/list")

	assert.Equal(t, 2, f.Calls("/list"))
	assert.Equal(t, 1, f.Calls("/list?skip=0&take=10"))
	assert.Equal(t, 2, f.TotalCalls())
	assert.Equal(t, []string{"/list?skip=0&take=10", "/list"}, f.History())
}

func TestFetcher_Fail(t *testing.T) {
	boom := errors.New("connection reset")
	f := NewFetcher().Fail("/a", boom)

	_, _, err := f.Fetch(context.Background(), "/a")
	assert.ErrorIs(t, err, boom)
}

func TestFetcher_HoldRelease(t *testing.T) {
	f := NewFetcher().Respond("/slow", 200, `{}`)
	f.Hold("/slow")

	done := make(chan int, 1)
	go func() {
		status, _, _ := f.Fetch(context.Background(), "/slow")
		done <- status
	}()

	select {
	case <-done:
		t.Fatal("held fetch returned")
	case <-time.After(20 * time.Millisecond):
	}

	f.Release("/slow")
	select {
	case status := <-done:
		assert.Equal(t, 200, status)
	case <-time.After(2 * time.Second):
		t.Fatal("released fetch did not return")
	}
}

func TestFetcher_HoldHonorsContext(t *testing.T) {
	f := NewFetcher()
	f.Hold("/slow")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.Fetch(ctx, "/slow")
	assert.ErrorIs(t, err, context.Canceled)
}
