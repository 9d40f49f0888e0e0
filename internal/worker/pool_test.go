package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdp-dns-redirect/internal/capture"
	"xdp-dns-redirect/internal/redirect"
	"xdp-dns-redirect/internal/testframe"
	"xdp-dns-redirect/pkg/classifier"
	"xdp-dns-redirect/pkg/logging"
	"xdp-dns-redirect/pkg/mirror"
	"xdp-dns-redirect/pkg/reinject"
	"xdp-dns-redirect/pkg/targets"
)

// sliceSource 按顺序返回预置帧
type sliceSource struct {
	frames [][]byte
	queue  uint32
	pos    int
	err    error
}

func (s *sliceSource) ReadFrame() (capture.Frame, error) {
	if s.pos >= len(s.frames) {
		if s.err != nil {
			return capture.Frame{}, s.err
		}
		return capture.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return capture.Frame{Data: f, Queue: s.queue, Timestamp: time.Now()}, nil
}

func (s *sliceSource) Close() error { return nil }

// idleSource 永远超时
type idleSource struct{}

func (idleSource) ReadFrame() (capture.Frame, error) {
	time.Sleep(time.Millisecond)
	return capture.Frame{}, capture.ErrTimeout
}

func (idleSource) Close() error { return nil }

func newStore(t *testing.T, entries map[uint32]targets.SocketID, m targets.MirrorTarget) *targets.Store {
	t.Helper()
	table, err := targets.NewRedirectTable(entries)
	require.NoError(t, err)
	store := targets.NewStore()
	store.Publish(table, m)
	return store
}

func run(t *testing.T, opts PoolOptions) *Pool {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	p, err := NewPool(opts)
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	p.Wait()
	return p
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(PoolOptions{Store: targets.NewStore()})
	assert.Error(t, err)
	_, err = NewPool(PoolOptions{Source: &sliceSource{}})
	assert.Error(t, err)
}

func TestPool_Replay(t *testing.T) {
	hub := redirect.NewHub(16)
	defer hub.Close()
	ch, err := hub.Register(7)
	require.NoError(t, err)

	query := testframe.UDP(40000, 53, 1, testframe.DNSQuery("example.com"))
	src := &sliceSource{frames: [][]byte{
		query,
		testframe.TCP(12345, 80, 2, nil),
		testframe.ARP(),
		query[:30],
	}}

	var mu sync.Mutex
	reasons := map[classifier.Reason]int{}
	p := run(t, PoolOptions{
		NumWorkers: 3,
		Source:     src,
		Store:      newStore(t, map[uint32]targets.SocketID{0: 7}, targets.NoMirror),
		Hub:        hub,
		OnDecision: func(_ capture.Frame, d classifier.Decision) {
			mu.Lock()
			reasons[d.Reason]++
			mu.Unlock()
		},
	})

	stats := p.Metrics().GetStats()
	assert.Equal(t, uint64(4), stats.Frames)
	assert.Equal(t, uint64(1), stats.Redirected)
	assert.Equal(t, uint64(3), stats.Passed)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Zero(t, stats.RedirectUnresolved)
	assert.Zero(t, stats.RedirectDropped)

	assert.Equal(t, map[classifier.Reason]int{
		classifier.ReasonDNS:       1,
		classifier.ReasonNotDNS:    1,
		classifier.ReasonNotIPv4:   1,
		classifier.ReasonMalformed: 1,
	}, reasons)

	require.Len(t, ch, 1)
	assert.Equal(t, query, <-ch)
}

func TestPool_LoopPrevention(t *testing.T) {
	hub := redirect.NewHub(16)
	defer hub.Close()
	ch, err := hub.Register(7)
	require.NoError(t, err)
	store := newStore(t, map[uint32]targets.SocketID{0: 7}, targets.NoMirror)

	first := run(t, PoolOptions{
		Source: &sliceSource{frames: [][]byte{
			testframe.UDP(40000, 53, 1, testframe.DNSQuery("example.com")),
			testframe.TCP(40001, 53, 2, nil),
		}},
		Store: store,
		Hub:   hub,
	})
	require.Equal(t, uint64(2), first.Metrics().GetStats().Redirected)

	// 消费者打上回注标记后重新注入
	var resubmit [][]byte
	for len(ch) > 0 {
		f := <-ch
		require.NoError(t, reinject.Stamp(f))
		resubmit = append(resubmit, f)
	}
	require.Len(t, resubmit, 2)

	second := run(t, PoolOptions{
		Source: &sliceSource{frames: resubmit},
		Store:  store,
		Hub:    hub,
	})
	stats := second.Metrics().GetStats()
	assert.Zero(t, stats.Redirected)
	assert.Equal(t, uint64(2), stats.Reinjected)
	assert.Empty(t, ch)
}

func TestPool_Mirror(t *testing.T) {
	var calls atomic.Int32
	cloner := mirror.ClonerFunc(func(ifindex uint32, frame []byte) error {
		assert.Equal(t, uint32(9), ifindex)
		if calls.Add(1)%2 == 0 {
			return errors.New("tx ring full")
		}
		return nil
	})

	p := run(t, PoolOptions{
		NumWorkers: 2,
		Source: &sliceSource{frames: [][]byte{
			testframe.UDP(40000, 53, 1, testframe.DNSQuery("a.example")),
			testframe.ICMP(3),
			testframe.ARP(),
			testframe.TCP(1, 2, 3, nil),
		}},
		Store:  newStore(t, nil, targets.MirrorTo(9)),
		Cloner: cloner,
	})

	stats := p.Metrics().GetStats()
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, uint64(2), stats.Mirrored)
	assert.Equal(t, uint64(2), stats.MirrorErrors)
	assert.Equal(t, uint64(4), stats.Frames, "clone failures must not affect classification")
	assert.Equal(t, uint64(1), stats.Redirected)
}

func TestPool_UnresolvedAndDropped(t *testing.T) {
	query := testframe.UDP(40000, 53, 1, testframe.DNSQuery("example.com"))

	p := run(t, PoolOptions{
		Source: &sliceSource{frames: [][]byte{query}, queue: 5},
		Store:  newStore(t, map[uint32]targets.SocketID{0: 7}, targets.NoMirror),
	})
	stats := p.Metrics().GetStats()
	assert.Equal(t, uint64(1), stats.Redirected)
	assert.Equal(t, uint64(1), stats.RedirectUnresolved)

	hub := redirect.NewHub(1)
	defer hub.Close()
	_, err := hub.Register(7)
	require.NoError(t, err)

	p = run(t, PoolOptions{
		Source: &sliceSource{frames: [][]byte{query, query, query}},
		Store:  newStore(t, map[uint32]targets.SocketID{0: 7}, targets.NoMirror),
		Hub:    hub,
	})
	stats = p.Metrics().GetStats()
	assert.Equal(t, uint64(3), stats.Redirected)
	assert.Equal(t, uint64(2), stats.RedirectDropped)
}

func TestPool_ContextCancel(t *testing.T) {
	p, err := NewPool(PoolOptions{
		Source: idleSource{},
		Store:  targets.NewStore(),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Start(ctx), context.DeadlineExceeded)
	p.Wait()
}

func TestPool_SourceError(t *testing.T) {
	boom := errors.New("device gone")
	p, err := NewPool(PoolOptions{
		Source: &sliceSource{frames: [][]byte{testframe.ARP()}, err: boom},
		Store:  targets.NewStore(),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Start(context.Background()), boom)
	p.Wait()
	assert.Equal(t, uint64(1), p.Metrics().GetStats().Frames)
}
