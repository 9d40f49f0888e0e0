package targets

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedirectTable(t *testing.T) {
	table, err := NewRedirectTable(map[uint32]SocketID{0: 11, 5: 16, 63: 74})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	tests := []struct {
		queue  uint32
		wantID SocketID
		wantOK bool
	}{
		{0, 11, true},
		{5, 16, true},
		{63, 74, true},
		{1, 0, false},
		{64, 0, false},
		{1 << 31, 0, false},
	}
	for _, tt := range tests {
		id, ok := table.Lookup(tt.queue)
		assert.Equal(t, tt.wantOK, ok, "queue %d", tt.queue)
		assert.Equal(t, tt.wantID, id, "queue %d", tt.queue)
	}

	var queues []uint32
	table.Each(func(q uint32, _ SocketID) { queues = append(queues, q) })
	assert.Equal(t, []uint32{0, 5, 63}, queues)

	without := table.Without(5)
	_, ok := without.Lookup(5)
	assert.False(t, ok)
	_, ok = table.Lookup(5)
	assert.True(t, ok, "Without must not modify the receiver")
}

func TestRedirectTable_OutOfRange(t *testing.T) {
	_, err := NewRedirectTable(map[uint32]SocketID{64: 1})
	assert.ErrorIs(t, err, ErrQueueOutOfRange)
}

func TestMirrorTarget(t *testing.T) {
	_, ok := NoMirror.Interface()
	assert.False(t, ok)
	assert.Equal(t, "none", NoMirror.String())

	_, ok = MirrorTo(0).Interface()
	assert.False(t, ok)

	ifindex, ok := MirrorTo(7).Interface()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), ifindex)
}

func TestStore_Versions(t *testing.T) {
	s := NewStore()
	first := s.Load()
	assert.Equal(t, uint64(0), first.Version)

	snap, err := s.SetRedirect(2, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)

	_, err = s.SetRedirect(99, 1)
	assert.ErrorIs(t, err, ErrQueueOutOfRange)
	assert.Equal(t, uint64(1), s.Load().Version, "failed update must not publish")

	s.SetMirror(MirrorTo(7))
	cur := s.Load()
	assert.Equal(t, uint64(2), cur.Version)
	id, ok := cur.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, SocketID(42), id)

	// 旧快照保持不变
	_, ok = first.Lookup(2)
	assert.False(t, ok)
	_, ok = first.Mirror.Interface()
	assert.False(t, ok)

	s.ClearRedirect(2)
	_, ok = s.Load().Lookup(2)
	assert.False(t, ok)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < 1000; i++ {
				snap := s.Load()
				if snap.Version < last {
					t.Errorf("version went backwards: %d < %d", snap.Version, last)
					return
				}
				last = snap.Version
				// 同一快照内表与版本一致: 版本 n 时队列 0 的值为 n
				if id, ok := snap.Lookup(0); ok && uint64(id) != snap.Version {
					t.Errorf("inconsistent snapshot: version %d id %d", snap.Version, id)
					return
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		table, _ := NewRedirectTable(map[uint32]SocketID{0: SocketID(i)})
		s.Publish(table, NoMirror)
	}
	wg.Wait()
}

func TestSnapshot_NilLookup(t *testing.T) {
	var snap *Snapshot
	_, ok := snap.Lookup(0)
	assert.False(t, ok)
}
