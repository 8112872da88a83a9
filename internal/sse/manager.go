package sse

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandriaapp/alexandria-server/internal/id"
)

// Filter narrows what a client receives. Empty fields match everything.
type Filter struct {
	BookKey  string
	ReaderID string
}

func (f Filter) matches(e Event) bool {
	if e.BookKey != "" && f.BookKey != "" && e.BookKey != f.BookKey {
		return false
	}
	// Reader-scoped events only go to that reader.
	if e.ReaderID != "" && e.ReaderID != f.ReaderID {
		return false
	}
	return true
}

// Client is one registered receiver: an HTTP stream or an in-process subscriber.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string
	Filter      Filter
}

// Manager queues emitted events and broadcasts them to matching clients.
type Manager struct {
	clients           map[string]*Client
	events            chan Event
	logger            *slog.Logger
	wg                sync.WaitGroup
	heartbeatInterval time.Duration
	mu                sync.RWMutex

	shutdownMu sync.RWMutex
	shutdown   bool
}

// NewManager creates a Manager. Call Start to begin broadcasting.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		clients:           make(map[string]*Client),
		events:            make(chan Event, 1000),
		logger:            logger,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval changes the keepalive period. Must be called before Start.
func (m *Manager) SetHeartbeatInterval(d time.Duration) {
	m.heartbeatInterval = d
}

// Start runs the broadcast loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	m.logger.Info("event manager starting")

	heartbeat := time.NewTicker(m.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case evt, ok := <-m.events:
			if !ok {
				return
			}
			m.broadcast(evt)
		case <-heartbeat.C:
			m.broadcast(NewHeartbeatEvent())
		case <-ctx.Done():
			m.logger.Info("event manager stopping")
			m.closeAllClients()
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is queued, and waits for the loop to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownMu.Lock()
	if m.shutdown {
		m.shutdownMu.Unlock()
		return nil
	}
	m.shutdown = true
	close(m.events)
	m.shutdownMu.Unlock()

	drained := make(chan struct{})
	go func() {
		for evt := range m.events {
			m.broadcast(evt)
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("event drain timed out, queued events dropped")
	}

	m.wg.Wait()
	m.closeAllClients()
	return nil
}

func (m *Manager) broadcast(evt Event) {
	var delivered, dropped, filtered int

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.clients {
		if !c.Filter.matches(evt) {
			filtered++
			continue
		}
		select {
		case c.EventChan <- evt:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow client",
				slog.String("client_id", c.ID),
				slog.String("event_type", string(evt.Type)))
		}
	}

	if evt.Type != EventHeartbeat {
		m.logger.Debug("event broadcast",
			slog.String("event_type", string(evt.Type)),
			slog.String("book_key", evt.BookKey),
			slog.Group("stats",
				slog.Int("delivered", delivered),
				slog.Int("filtered", filtered),
				slog.Int("dropped", dropped)))
	}
}

// Connect registers a client receiving events that match f.
func (m *Manager) Connect(f Filter) (*Client, error) {
	clientID, err := id.Generate(id.Client)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:          clientID,
		Filter:      f,
		EventChan:   make(chan Event, 100),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.clients[c.ID] = c
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("event client connected",
		slog.String("client_id", c.ID),
		slog.String("book_key", f.BookKey),
		slog.Int("total_clients", total))
	return c, nil
}

// Disconnect removes a client and closes its channels. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	total := len(m.clients)
	m.mu.Unlock()

	close(c.Done)
	close(c.EventChan)

	m.logger.Debug("event client disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(c.ConnectedAt)),
		slog.Int("total_clients", total))
}

// Subscribe calls fn, on its own goroutine, for every non-heartbeat event matching f.
// The returned function unsubscribes; it is safe to call more than once and from inside fn.
func (m *Manager) Subscribe(f Filter, fn func(Event)) (func(), error) {
	c, err := m.Connect(f)
	if err != nil {
		return nil, err
	}
	go func() {
		for evt := range c.EventChan {
			if evt.Type == EventHeartbeat {
				continue
			}
			fn(evt)
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { m.Disconnect(c.ID) }) }, nil
}

// Emit queues an event for broadcasting. It implements store.EventEmitter.
// Events emitted after shutdown, or while the queue is full, are dropped.
func (m *Manager) Emit(event any) {
	evt, ok := event.(Event)
	if !ok {
		m.logger.Error("invalid event type emitted")
		return
	}

	m.shutdownMu.RLock()
	defer m.shutdownMu.RUnlock()
	if m.shutdown {
		return
	}

	select {
	case m.events <- evt:
	default:
		m.logger.Error("event queue full, dropping event",
			slog.String("event_type", string(evt.Type)))
	}
}

// Clients iterates over connected clients.
func (m *Manager) Clients() iter.Seq[*Client] {
	return func(yield func(*Client) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, c := range m.clients {
			if !yield(c) {
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) closeAllClients() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		close(c.Done)
		close(c.EventChan)
	}
	clear(m.clients)
}
