package board

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

func item(id, container string, key orderkey.Key) Item {
	return Item{ID: id, ContainerID: container, Key: key}
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestSortByKeyThenID(t *testing.T) {
	items := []Item{
		item("c", "l1", "n"),
		item("b", "l1", "a"),
		item("a", "l1", "n"),
		item("d", "l1", "10"),
		item("e", "l1", "9"),
	}
	Sort(items, nil)
	assert.Equal(t, []string{"b", "e", "d", "a", "c"}, ids(items))
}

func TestStatePutGetDelete(t *testing.T) {
	s := NewState(nil, item("x", "l1", "n"), item("y", "l1", "t"))
	require.Equal(t, 2, s.Len())

	prev, ok := s.Put(item("x", "l2", "g"))
	require.True(t, ok)
	assert.Equal(t, "l1", prev.ContainerID)

	got, ok := s.Get("x")
	require.True(t, ok)
	assert.Equal(t, "l2", got.ContainerID)
	assert.Equal(t, []string{"y"}, ids(s.Container("l1")))
	assert.Equal(t, []string{"x"}, ids(s.Container("l2")))

	_, ok = s.Delete("x")
	assert.True(t, ok)
	_, ok = s.Get("x")
	assert.False(t, ok)
	got, ok = s.Get("y")
	require.True(t, ok)
	assert.Equal(t, orderkey.Key("t"), got.Key)

	_, ok = s.Delete("missing")
	assert.False(t, ok)
}

func TestStateDeleteKeepsIndexConsistent(t *testing.T) {
	s := NewState(nil, item("a", "l", "b"), item("b", "l", "c"), item("c", "l", "d"))
	s.Delete("a")
	for _, id := range []string{"b", "c"} {
		got, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, id, got.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids(s.Container("l")))
}

func TestStateItemNeverInTwoContainers(t *testing.T) {
	s := NewState(nil, item("x", "l1", "n"))
	s.Put(item("x", "l2", "n"))
	assert.Empty(t, s.Container("l1"))
	assert.Len(t, s.Container("l2"), 1)
	assert.ElementsMatch(t, []string{"l2"}, s.Containers())
}

func TestStateClone(t *testing.T) {
	s := NewState(nil, item("x", "l1", "n"))
	c := s.Clone()
	c.Put(item("x", "l9", "b"))
	c.Put(item("z", "l9", "c"))

	got, _ := s.Get("x")
	assert.Equal(t, "l1", got.ContainerID)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, c.Len())
}

func TestItemMovedAndLogValue(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	it := Item{ID: "x", ContainerID: "l1", Key: "n", Payload: json.RawMessage(`{"secret":true}`)}
	moved := it.Moved("l2", "g", at, "alice")

	assert.Equal(t, "l1", it.ContainerID)
	assert.Equal(t, "l2", moved.ContainerID)
	assert.Equal(t, orderkey.Key("g"), moved.Key)
	assert.Equal(t, "alice", moved.ModifiedBy)
	assert.Equal(t, it.Payload, moved.Payload)

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("moved", "item", moved)
	assert.Contains(t, buf.String(), `"container_id":"l2"`)
	assert.NotContains(t, buf.String(), "secret")
}

func TestEntries(t *testing.T) {
	got := Entries([]Item{item("a", "l", "b"), item("c", "l", "d")})
	assert.Equal(t, []orderkey.Entry{{ID: "a", Key: "b"}, {ID: "c", Key: "d"}}, got)
}
