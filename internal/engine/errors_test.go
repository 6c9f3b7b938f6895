package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDropError(t *testing.T) {
	cause := errors.New("payload has no id")
	err := newDropError(DropMalformed, "chat-channel.insert", "o1", cause)

	assert.Equal(t, "dropped chat-channel.insert (malformed, org=o1): payload has no id", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := newDropError(DropSelfOrigin, "chat-message.insert", "o1", nil)
	assert.Equal(t, "dropped chat-message.insert (self_origin, org=o1)", bare.Error())
	assert.NoError(t, bare.Unwrap())
}

func TestIsDropped(t *testing.T) {
	err := fmt.Errorf("handle: %w", newDropError(DropOutOfScope, "organisation.delete", "o1", nil))

	assert.True(t, IsDropped(err, DropOutOfScope))
	assert.True(t, IsDropped(err, ""))
	assert.False(t, IsDropped(err, DropUnknown))
	assert.False(t, IsDropped(errors.New("boom"), ""))
	assert.False(t, IsDropped(nil, ""))
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, DropUnknown, ReasonOf(newDropError(DropUnknown, "x", "o1", nil)))
	assert.Equal(t, DropReason(""), ReasonOf(errors.New("boom")))
	assert.Equal(t, DropReason(""), ReasonOf(nil))
}
