package core

import (
	"testing"
	"time"

	"github.com/jabolina/netcluster/pkg/netcluster/definition"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	log := definition.NewLogrusLogger("session-test")
	log.ToggleDebug(false)
	s := NewLocalSession(1, types.NewNodeID(), log)
	go s.Run()
	t.Cleanup(s.Stop)
	return s
}

func linkSessions(a, b *Session) {
	connA, connB := NewLocalConnectionPair()
	bAtA := NewRemoteNode(b.LocalNode().ID(), connA)
	aAtB := NewRemoteNode(a.LocalNode().ID(), connB)
	a.Listen(connA, bAtA)
	b.Listen(connB, aAtB)
	a.Remember(bAtA)
	b.Remember(aAtB)
}

// TestNodeConnectHandshakeAdoptsIdentity exercises the supplemented Node
// family: an anonymous peer handle (built at accept time, before the
// remote side has announced itself) is retargeted to its real identity
// once CMD_NODE_CONNECT arrives.
func TestNodeConnectHandshakeAdoptsIdentity(t *testing.T) {
	a := newTestSession(t)
	b := newTestSession(t)

	connA, connB := NewLocalConnectionPair()
	anonymousBAtA := NewRemoteNode(types.NodeIDZero, connA)
	anonymousAAtB := NewRemoteNode(types.NodeIDZero, connB)
	a.Listen(connA, anonymousBAtA)
	b.Listen(connB, anonymousAAtB)

	if err := a.AnnounceSelf(anonymousBAtA); err != nil {
		t.Fatalf("a.AnnounceSelf failed: %v", err)
	}
	if err := b.AnnounceSelf(anonymousAAtB); err != nil {
		t.Fatalf("b.AnnounceSelf failed: %v", err)
	}

	if !waitUntil(func() bool {
		_, errA := b.Connect(a.LocalNode().ID())
		_, errB := a.Connect(b.LocalNode().ID())
		return errA == nil && errB == nil
	}, time.Second) {
		t.Fatal("node-connect handshake never completed in both directions")
	}
}

// TestRequestObjectIDAllocatesFromMaster exercises the supplemented
// session ID-generation family: CMD_SESSION_GEN_IDS round trip.
func TestRequestObjectIDAllocatesFromMaster(t *testing.T) {
	master := newTestSession(t)
	requester := newTestSession(t)
	linkSessions(master, requester)

	masterNode, err := requester.Connect(master.LocalNode().ID())
	if err != nil {
		t.Fatalf("requester could not resolve master: %v", err)
	}

	first, err := requester.RequestObjectID(masterNode)
	if err != nil {
		t.Fatalf("first RequestObjectID failed: %v", err)
	}
	second, err := requester.RequestObjectID(masterNode)
	if err != nil {
		t.Fatalf("second RequestObjectID failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct allocated IDs, got %d twice", first)
	}
}

// TestAnnounceObjectDeliversAnnouncement exercises the supplemented
// object-registration family: CMD_SESSION_REGISTER_OBJECT.
func TestAnnounceObjectDeliversAnnouncement(t *testing.T) {
	master := newTestSession(t)
	slave := newTestSession(t)
	linkSessions(master, slave)

	slaveNode, err := master.Connect(slave.LocalNode().ID())
	if err != nil {
		t.Fatalf("master could not resolve slave: %v", err)
	}

	objectID := master.GenerateObjectID()
	if err := master.AnnounceObject(slaveNode, objectID, 3, master.LocalNode().ID()); err != nil {
		t.Fatalf("AnnounceObject failed: %v", err)
	}

	select {
	case got := <-slave.Announcements():
		if got.ObjectID != objectID || got.Height != 3 || got.MasterID != master.LocalNode().ID() {
			t.Fatalf("unexpected announcement: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("announcement never arrived")
	}
}
