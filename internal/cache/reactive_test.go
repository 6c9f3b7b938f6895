package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactive_GetSet(t *testing.T) {
	r := NewReactive(1)
	assert.Equal(t, 1, r.Get())

	r.Set(2)
	assert.Equal(t, 2, r.Get())
}

func TestReactive_SubscribeDeliversCurrentSnapshot(t *testing.T) {
	r := NewReactive("a")
	r.Set("b")

	var got []string
	unsub := r.Subscribe(func(v string) { got = append(got, v) })
	defer unsub()

	assert.Equal(t, []string{"b"}, got, "late subscriber sees only the current value")

	r.Set("c")
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestReactive_SubscribersNotifiedInOrder(t *testing.T) {
	r := NewReactive(0)

	var order []string
	r.Subscribe(func(int) { order = append(order, "first") })
	r.Subscribe(func(int) { order = append(order, "second") })
	r.Subscribe(func(int) { order = append(order, "third") })
	order = nil

	r.Set(1)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestReactive_Unsubscribe(t *testing.T) {
	r := NewReactive(0)

	calls := 0
	unsub := r.Subscribe(func(int) { calls++ })
	require.Equal(t, 1, r.SubscriberCount())

	unsub()
	unsub() // idempotent
	assert.Equal(t, 0, r.SubscriberCount())

	r.Set(5)
	assert.Equal(t, 1, calls, "only the initial delivery")
}

func TestReactive_UnsubscribeKeepsOthers(t *testing.T) {
	r := NewReactive(0)

	var a, b, c int
	r.Subscribe(func(v int) { a = v })
	unsubB := r.Subscribe(func(v int) { b = v })
	r.Subscribe(func(v int) { c = v })

	unsubB()
	r.Set(7)

	assert.Equal(t, 7, a)
	assert.Equal(t, 0, b)
	assert.Equal(t, 7, c)
}

func TestReactive_SubscriberMaySetDuringNotify(t *testing.T) {
	r := NewReactive(0)
	r.Subscribe(func(v int) {
		if v == 1 {
			r.Set(2)
		}
	})

	r.Set(1)
	assert.Equal(t, 2, r.Get(), "notification runs outside the lock")
}

func TestReactive_Update(t *testing.T) {
	r := NewReactive([]int{1})
	r.Update(func(v []int) []int { return append(append([]int(nil), v...), 2) })
	assert.Equal(t, []int{1, 2}, r.Get())
}
