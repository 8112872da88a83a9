package sse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	"github.com/alexandriaapp/alexandria-server/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestSubscribe_FiltersByBook(t *testing.T) {
	m := startManager(t)

	var moby, other recorder
	unsubA, err := m.Subscribe(Filter{BookKey: "epubjs:moby"}, moby.add)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := m.Subscribe(Filter{BookKey: "epubjs:other"}, other.add)
	require.NoError(t, err)
	defer unsubB()

	m.Emit(NewAnnotationsChangedEvent("epubjs:moby", ActionAdded, []domain.AnnotationKind{domain.KindHighlight}, []string{"hl-1"}))
	m.Emit(NewBookEvent(EventBookUpdated, &domain.Book{Key: "epubjs:x"})) // unscoped: everyone

	require.Eventually(t, func() bool { return moby.len() == 2 && other.len() == 1 }, time.Second, 5*time.Millisecond)

	got := moby.snapshot()[0]
	assert.Equal(t, EventAnnotationsChanged, got.Type)
	data, ok := got.Data.(AnnotationsChangedData)
	require.True(t, ok)
	assert.Equal(t, []string{"hl-1"}, data.IDs)
	assert.Equal(t, 1, data.Count)
	assert.Equal(t, EventBookUpdated, other.snapshot()[0].Type)
}

func TestSubscribe_ReaderScopedEvents(t *testing.T) {
	m := startManager(t)

	var alice, anonymous recorder
	u1, err := m.Subscribe(Filter{ReaderID: "alice"}, alice.add)
	require.NoError(t, err)
	defer u1()
	u2, err := m.Subscribe(Filter{}, anonymous.add)
	require.NoError(t, err)
	defer u2()

	m.Emit(NewFavoriteChangedEvent("alice", "book", "epubjs:moby", true))
	m.Emit(NewBookRemovedEvent("epubjs:gone"))

	require.Eventually(t, func() bool { return alice.len() == 2 && anonymous.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, EventBookRemoved, anonymous.snapshot()[0].Type)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	m := startManager(t)

	var r recorder
	unsub, err := m.Subscribe(Filter{}, r.add)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ClientCount())

	unsub()
	unsub()
	assert.Equal(t, 0, m.ClientCount())

	m.Emit(NewBookRemovedEvent("epubjs:x"))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.len())
}

func TestShutdown_DrainsQueuedEvents(t *testing.T) {
	m := NewManager(logger.Discard())

	var r recorder
	_, err := m.Subscribe(Filter{}, r.add)
	require.NoError(t, err)

	// The broadcast loop is not running; events wait in the queue until shutdown drains them.
	for range 3 {
		m.Emit(NewBookRemovedEvent("epubjs:x"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	require.Eventually(t, func() bool { return r.len() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.ClientCount())

	m.Emit(NewBookRemovedEvent("epubjs:late"))
	require.NoError(t, m.Shutdown(ctx))
}

func TestEmit_IgnoresForeignTypes(t *testing.T) {
	m := NewManager(logger.Discard())
	m.Emit("not an event")
	assert.Empty(t, m.events)
}

func TestFilterMatches(t *testing.T) {
	e := Event{BookKey: "epubjs:a"}
	assert.True(t, Filter{}.matches(e))
	assert.True(t, Filter{BookKey: "epubjs:a"}.matches(e))
	assert.False(t, Filter{BookKey: "epubjs:b"}.matches(e))

	scoped := Event{ReaderID: "r1"}
	assert.True(t, Filter{ReaderID: "r1"}.matches(scoped))
	assert.False(t, Filter{ReaderID: "r2"}.matches(scoped))
	assert.False(t, Filter{}.matches(scoped))
}
