package notify

import (
	"hash/fnv"
	"sync"

	"github.com/fechatter/fechatter/internal/models"
)

// registryShards bounds lock contention on the connection registry;
// generalizes the teacher's single sync.Mutex-guarded tracker map into N
// independently-locked shards, keyed by a hash of the user ID.
const registryShards = 32

// Connection is one live SSE stream for a user. A writer goroutine owned by
// the HTTP handler that created it drains queue and emits frames; Close
// unblocks that goroutine and is safe to call more than once.
type Connection struct {
	ID       string
	UserID   models.ULID
	queue    chan models.EventEnvelope
	closeMu  sync.Mutex
	closed   bool
	closedCh chan struct{}
}

func newConnection(id string, userID models.ULID, depth int) *Connection {
	return &Connection{
		ID:       id,
		UserID:   userID,
		queue:    make(chan models.EventEnvelope, depth),
		closedCh: make(chan struct{}),
	}
}

// Send enqueues env for delivery, reporting false if the connection's queue
// is full (a lagging reader) or already closed; the caller evicts on false
// rather than blocking the fan-out goroutine on one slow client.
func (c *Connection) Send(env models.EventEnvelope) bool {
	select {
	case <-c.closedCh:
		return false
	default:
	}
	select {
	case c.queue <- env:
		return true
	default:
		return false
	}
}

// Close marks the connection closed and unblocks its writer goroutine.
func (c *Connection) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closedCh)
}

type registryShard struct {
	mu    sync.Mutex
	byUser map[string]map[string]*Connection
}

// registry is a sharded concurrent map from user ID to that user's open
// connections, keyed again by connection ID to allow multiple tabs/devices
// per user.
type registry struct {
	shards [registryShards]*registryShard
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.shards {
		r.shards[i] = &registryShard{byUser: make(map[string]map[string]*Connection)}
	}
	return r
}

func (r *registry) shardFor(userID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%registryShards]
}

func (r *registry) add(conn *Connection) {
	userKey := conn.UserID.String()
	shard := r.shardFor(userKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	conns, ok := shard.byUser[userKey]
	if !ok {
		conns = make(map[string]*Connection)
		shard.byUser[userKey] = conns
	}
	conns[conn.ID] = conn
}

func (r *registry) remove(conn *Connection) {
	userKey := conn.UserID.String()
	shard := r.shardFor(userKey)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	conns, ok := shard.byUser[userKey]
	if !ok {
		return
	}
	delete(conns, conn.ID)
	if len(conns) == 0 {
		delete(shard.byUser, userKey)
	}
}

// connectionsFor returns a snapshot of userID's current connections. The
// slice is a copy, so sending to it after the shard lock is released never
// races a concurrent add/remove.
func (r *registry) connectionsFor(userID string) []*Connection {
	shard := r.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	conns, ok := shard.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// isOnline reports whether userID has at least one live connection.
func (r *registry) isOnline(userID string) bool {
	shard := r.shardFor(userID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	conns, ok := shard.byUser[userID]
	return ok && len(conns) > 0
}
