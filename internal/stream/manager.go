package stream

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"marketpulse/internal/logging"
	"marketpulse/internal/models"
)

// State is the connection state of the ingestion manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// SnapshotSink receives parsed snapshots. It reports whether the snapshot
// replaced the cached one.
type SnapshotSink interface {
	Put(ctx context.Context, snap models.Snapshot) (bool, error)
}

// PriceEvaluator is run for every inbound price.
type PriceEvaluator interface {
	Evaluate(ctx context.Context, symbol string, price float64)
}

// Config holds ingestion settings.
type Config struct {
	URL                  string
	Symbols              []string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

// Manager owns the ticker connection and its reconnect schedule.
type Manager struct {
	cfg       Config
	dialer    Dialer
	sink      SnapshotSink
	evaluator PriceEvaluator
	hub       *Hub
	logger    zerolog.Logger

	mu        sync.Mutex
	state     State
	symbols   []string
	running   bool
	exhausted bool
	attempts  int
	gen       uint64
	conn      Conn
	timer     *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
	lastMsgAt time.Time

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithHub publishes accepted snapshots to hub.
func WithHub(h *Hub) Option {
	return func(m *Manager) {
		m.hub = h
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.WithComponent(logger, "stream")
	}
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg Config, sink SnapshotSink, evaluator PriceEvaluator, opts ...Option) *Manager {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	m := &Manager{
		cfg:       cfg,
		dialer:    WebsocketDialer{},
		sink:      sink,
		evaluator: evaluator,
		logger:    zerolog.Nop(),
		state:     Disconnected,
	}
	for _, s := range cfg.Symbols {
		m.addSymbolLocked(s)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens the connection. Calling Start on a running manager is a no-op
// unless reconnects were exhausted, in which case it starts over.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running && !m.exhausted {
		return
	}
	if m.running {
		m.teardownLocked()
	}

	m.running = true
	m.exhausted = false
	m.attempts = 0
	m.gen++
	m.ctx, m.cancel = context.WithCancel(context.Background())

	gen := m.gen
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.connect(gen)
	}()
}

// Stop closes the connection and cancels any pending reconnect. It is safe
// to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.exhausted = false
	m.teardownLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("Stream stopped")
}

// teardownLocked invalidates in-flight callbacks and releases the connection.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.timer != nil {
		if m.timer.Stop() {
			m.wg.Done()
		}
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
}

func (m *Manager) connect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	url := StreamURL(m.cfg.URL, m.symbols)
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Info().Str("url", url).Msg("Connecting to ticker stream")
	conn, err := m.dialer.Dial(ctx, url)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Ticker stream connect failed")
		m.state = Disconnected
		m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		return
	}
	m.state = Connected
	m.attempts = 0
	m.conn = conn
	m.mu.Unlock()

	m.logger.Info().Msg("Connected to ticker stream")
	m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleMessage(ctx, data)
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.logger.Warn().Err(err).Msg("Ticker stream closed")
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
	m.scheduleReconnectLocked(gen)
}

// scheduleReconnectLocked arms the next attempt after interval*attempt, or
// gives up once the attempt budget is spent.
func (m *Manager) scheduleReconnectLocked(gen uint64) {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.exhausted = true
		m.logger.Error().
			Int("attempts", m.attempts).
			Msg("max reconnection attempts reached")
		return
	}

	m.attempts++
	delay := m.cfg.ReconnectInterval * time.Duration(m.attempts)
	m.logger.Info().
		Int("attempt", m.attempts).
		Int("max_attempts", m.cfg.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("Scheduling ticker stream reconnect")

	m.wg.Add(1)
	m.timer = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		m.connect(gen)
	})
}

func (m *Manager) handleMessage(ctx context.Context, data []byte) {
	receivedAt := time.Now()
	m.mu.Lock()
	m.lastMsgAt = receivedAt
	m.mu.Unlock()

	snap, err := ParseTicker(data, receivedAt)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Dropping unparsable ticker message")
		return
	}

	logger := logging.WithSymbol(m.logger, snap.Symbol)
	accepted, err := m.sink.Put(ctx, snap)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to cache streamed snapshot")
	}
	if accepted && m.hub != nil {
		m.hub.Publish(snap)
	}

	if m.evaluator != nil {
		m.evaluator.Evaluate(ctx, snap.Symbol, snap.Price)
	}
}

// ConnectionStatus returns the current state.
func (m *Manager) ConnectionStatus() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether Start was called without a matching Stop.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastMessageAt returns when the last frame arrived, zero if none has.
func (m *Manager) LastMessageAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMsgAt
}

// Attempts returns the reconnect attempts made since the last connect.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// TrackedSymbols returns the subscribed symbols.
func (m *Manager) TrackedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.symbols)
}

// Streaming reports whether symbol is subscribed on a live connection.
func (m *Manager) Streaming(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Connected && slices.Contains(m.symbols, models.NormalizeSymbol(symbol))
}

// AddSymbol subscribes to symbol. A running manager reconnects to apply it.
func (m *Manager) AddSymbol(symbol string) bool {
	return m.mutateSymbols(func() bool { return m.addSymbolLocked(symbol) })
}

// RemoveSymbol unsubscribes symbol. A running manager reconnects to apply it.
func (m *Manager) RemoveSymbol(symbol string) bool {
	return m.mutateSymbols(func() bool {
		sym := models.NormalizeSymbol(symbol)
		i := slices.Index(m.symbols, sym)
		if i < 0 {
			return false
		}
		m.symbols = slices.Delete(m.symbols, i, i+1)
		return true
	})
}

func (m *Manager) mutateSymbols(mutate func() bool) bool {
	m.mu.Lock()
	wasRunning := m.running
	m.mu.Unlock()

	if wasRunning {
		m.Stop()
	}

	m.mu.Lock()
	changed := mutate()
	m.mu.Unlock()

	if wasRunning {
		m.Start()
	}
	return changed
}

func (m *Manager) addSymbolLocked(symbol string) bool {
	sym := models.NormalizeSymbol(symbol)
	if sym == "" || slices.Contains(m.symbols, sym) {
		return false
	}
	m.symbols = append(m.symbols, sym)
	return true
}
