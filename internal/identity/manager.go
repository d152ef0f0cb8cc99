package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/smithy-go/auth/bearer"

	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/pubsub"
)

// Manager owns the active connection and announces connect/disconnect
// transitions on a broker. A Disconnected event always carries the
// connection that went away.
type Manager struct {
	tokenPath string

	mu      sync.RWMutex
	current *Connection

	events *pubsub.Broker[Connection]
}

// NewManager creates a manager that loads connections from tokenPath.
// An empty tokenPath means connections are only set programmatically.
func NewManager(tokenPath string) *Manager {
	return &Manager{
		tokenPath: tokenPath,
		events:    pubsub.NewBroker[Connection](),
	}
}

// Current returns the active connection, if any.
func (m *Manager) Current() (Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Connection{}, false
	}
	return *m.current, true
}

// Require returns the active connection or ErrNoConnection.
func (m *Manager) Require() (Connection, error) {
	conn, ok := m.Current()
	if !ok {
		return Connection{}, ErrNoConnection
	}
	return conn, nil
}

// RetrieveBearerToken resolves a token from whichever connection is active
// at call time, so long-lived clients follow re-logins.
func (m *Manager) RetrieveBearerToken(ctx context.Context) (bearer.Token, error) {
	conn, err := m.Require()
	if err != nil {
		return bearer.Token{}, err
	}
	if conn.Token == nil {
		return bearer.Token{}, fmt.Errorf("connection %s has no bearer token", conn.ID)
	}
	return conn.Token.RetrieveBearerToken(ctx)
}

var _ bearer.TokenProvider = (*Manager)(nil)

// Events subscribes to connection lifecycle events until ctx is done.
func (m *Manager) Events(ctx context.Context) <-chan pubsub.Event[Connection] {
	return m.events.Subscribe(ctx)
}

// Set installs conn as the active connection.
func (m *Manager) Set(conn Connection) {
	m.mu.Lock()
	prev := m.current
	m.current = &conn
	m.mu.Unlock()

	if prev != nil && prev.ID == conn.ID {
		log.Debug(log.CatIdentity, "Refreshed connection", "id", conn.ID)
		return
	}
	if prev != nil {
		log.Info(log.CatIdentity, "Connection replaced", "from", prev.ID, "to", conn.ID)
		m.events.Publish(pubsub.DisconnectedEvent, *prev)
	}
	log.Info(log.CatIdentity, "Connected", "id", conn.ID, "kind", conn.Kind)
	m.events.Publish(pubsub.ConnectedEvent, conn)
}

// Clear drops the active connection.
func (m *Manager) Clear() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		log.Info(log.CatIdentity, "Disconnected", "id", prev.ID)
		m.events.Publish(pubsub.DisconnectedEvent, *prev)
	}
}

// Reload re-reads the token file. A missing or unreadable file clears the
// active connection.
func (m *Manager) Reload() error {
	if m.tokenPath == "" {
		return nil
	}
	conn, err := LoadTokenFile(m.tokenPath)
	if err != nil {
		log.Debug(log.CatIdentity, "No usable token file", "path", m.tokenPath, "error", err)
		m.Clear()
		return err
	}
	m.Set(conn)
	return nil
}

// Watch reloads the connection whenever the token file changes, until ctx
// is done.
func (m *Manager) Watch(ctx context.Context, debounce time.Duration) error {
	cfg := DefaultWatcherConfig(m.tokenPath)
	if debounce > 0 {
		cfg.DebounceDur = debounce
	}
	w, err := NewWatcher(cfg)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}

	go func() {
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				_ = m.Reload()
			}
		}
	}()
	return nil
}

// Close shuts down the event broker.
func (m *Manager) Close() {
	m.events.Close()
}
