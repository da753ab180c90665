package notify

import (
	"testing"

	"github.com/fechatter/fechatter/internal/models"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := newRegistry()
	userID := models.NewULID()
	conn := newConnection("conn1", userID, 4)

	r.add(conn)
	if !r.isOnline(userID.String()) {
		t.Fatal("expected user to be online after add")
	}
	conns := r.connectionsFor(userID.String())
	if len(conns) != 1 || conns[0].ID != "conn1" {
		t.Fatalf("connectionsFor = %+v, want one conn1", conns)
	}

	r.remove(conn)
	if r.isOnline(userID.String()) {
		t.Fatal("expected user offline after removing only connection")
	}
}

func TestRegistry_MultipleConnectionsPerUser(t *testing.T) {
	r := newRegistry()
	userID := models.NewULID()
	connA := newConnection("a", userID, 4)
	connB := newConnection("b", userID, 4)

	r.add(connA)
	r.add(connB)
	conns := r.connectionsFor(userID.String())
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	r.remove(connA)
	conns = r.connectionsFor(userID.String())
	if len(conns) != 1 || conns[0].ID != "b" {
		t.Fatalf("connectionsFor after removing a = %+v", conns)
	}
}

func TestConnection_SendOverflowReturnsFalse(t *testing.T) {
	conn := newConnection("c", models.NewULID(), 1)
	env := models.EventEnvelope{Subject: "fechatter.test.v1"}

	if !conn.Send(env) {
		t.Fatal("expected first send to succeed")
	}
	if conn.Send(env) {
		t.Fatal("expected second send to fail: queue depth is 1")
	}
}

func TestConnection_SendAfterCloseReturnsFalse(t *testing.T) {
	conn := newConnection("c", models.NewULID(), 4)
	conn.Close()
	if conn.Send(models.EventEnvelope{}) {
		t.Fatal("expected send on closed connection to fail")
	}
	// Close is idempotent.
	conn.Close()
}

func TestRegistry_ShardingDistributesUsers(t *testing.T) {
	r := newRegistry()
	seenShards := make(map[int]bool)
	for i := 0; i < 64; i++ {
		userID := models.NewULID().String()
		for si, shard := range r.shards {
			if shard == r.shardFor(userID) {
				seenShards[si] = true
			}
		}
	}
	if len(seenShards) < 2 {
		t.Errorf("expected users to spread across multiple shards, got %d distinct shards", len(seenShards))
	}
}
