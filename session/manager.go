package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/signal-meaning/voiceproxy/config"
)

// Manager tracks all live proxy connections. Redis holds a best-effort
// presence record per connection so operators can see active sessions
// across replicas; the proxy stays fully functional when Redis is down.
type Manager struct {
	conns map[string]*Conn
	mu    sync.RWMutex

	// dialing counts in-flight upstream dials; they reserve a slot
	// against the session cap without holding the lock for the dial.
	dialing int

	redis  *redis.Client
	config *config.Config
	log    *slog.Logger
}

// NewManager creates a connection manager with an optional Redis presence
// backend.
func NewManager(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, continuing without presence registry", "error", err)
		redisClient = nil
	}

	return &Manager{
		conns:  make(map[string]*Conn),
		redis:  redisClient,
		config: cfg,
		log:    logger,
	}, nil
}

// CreateConn accepts a client socket, opens the paired upstream socket
// and registers the connection. traceID may be empty; it then defaults to
// the generated connection id.
func (m *Manager) CreateConn(ctx context.Context, clientConn *websocket.Conn, traceID string) (*Conn, error) {
	m.mu.Lock()
	if len(m.conns)+m.dialing >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("maximum sessions reached")
	}
	m.dialing++
	m.mu.Unlock()

	id := uuid.New().String()

	// The upstream dial runs outside the lock; a slow handshake must not
	// block other accepts or the registry.
	conn, err := NewConn(ctx, id, traceID, clientConn, m.config, m.log)

	m.mu.Lock()
	m.dialing--
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.conns[id] = conn
	m.mu.Unlock()

	m.storePresence(ctx, conn)
	return conn, nil
}

// storePresence records the connection in Redis with a TTL.
func (m *Manager) storePresence(ctx context.Context, conn *Conn) {
	if m.redis == nil {
		return
	}
	m.redis.HSet(ctx, "session:"+conn.ID, map[string]interface{}{
		"created_at":    conn.CreatedAt.Format(time.RFC3339),
		"last_activity": conn.LastActivity.Format(time.RFC3339),
		"trace_id":      conn.TraceID,
		"status":        "active",
	})
	m.redis.SAdd(ctx, "active_sessions", conn.ID)
	m.redis.Expire(ctx, "session:"+conn.ID, m.config.SessionTimeout)
}

// GetConn retrieves a connection by id.
func (m *Manager) GetConn(id string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, exists := m.conns[id]
	return conn, exists
}

// RemoveConn closes and deregisters a connection.
func (m *Manager) RemoveConn(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, exists := m.conns[id]
	if !exists {
		return nil
	}

	conn.Close()
	delete(m.conns, id)
	m.dropPresence(ctx, id)
	return nil
}

func (m *Manager) dropPresence(ctx context.Context, id string) {
	if m.redis == nil {
		return
	}
	m.redis.Del(ctx, "session:"+id)
	m.redis.SRem(ctx, "active_sessions", id)
}

// ActiveCount returns the current connection count.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// CleanupInactive removes connections idle past the session timeout.
func (m *Manager) CleanupInactive(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, conn := range m.conns {
		conn.mu.RLock()
		idle := now.Sub(conn.LastActivity)
		conn.mu.RUnlock()
		if idle > m.config.SessionTimeout {
			m.log.Info("closing idle connection", "connection_id", id, "idle", idle)
			conn.Close()
			delete(m.conns, id)
			m.dropPresence(ctx, id)
		}
	}
}

// StartCleanupRoutine runs periodic cleanup until ctx is canceled.
func (m *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupInactive(ctx)
		}
	}
}

// Shutdown closes all connections and the Redis client.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, conn := range m.conns {
		conn.Close()
		delete(m.conns, id)
		m.dropPresence(ctx, id)
	}

	if m.redis != nil {
		m.redis.Close()
	}
}
