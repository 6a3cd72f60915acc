// Package object implements the distributed-object replica: attach to a
// session, register command handlers, carry a monotonic version, and send
// packets addressed by (sessionID, objectID, instanceID).
package object

import (
	"sync"

	"github.com/jabolina/netcluster/pkg/netcluster/core"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

// Base is embedded by every distributed object replica. It carries the
// identity/version/session bookkeeping shared by all objects, leaving
// serialization (instance data, pack/unpack) to the concrete type, since
// that's the part that actually varies per object (see barrier.Barrier).
type Base struct {
	objectID   types.ObjectID
	instanceID types.InstanceID
	session    *core.Session

	// mu guards version: application threads advance it via SetVersion
	// while the session's command thread reads it inside handlers.
	mu      sync.Mutex
	version types.Version
}

// OnAttach wires the base fields; concrete objects call this from their
// own OnAttach override before registering handlers.
func (b *Base) OnAttach(session *core.Session, objectID types.ObjectID, instanceID types.InstanceID) {
	b.session = session
	b.objectID = objectID
	b.instanceID = instanceID
	b.mu.Lock()
	if b.version == types.VersionNone {
		b.version = types.VersionFirst
	}
	b.mu.Unlock()
}

// ObjectID returns this replica's object ID.
func (b *Base) ObjectID() types.ObjectID { return b.objectID }

// InstanceID returns this replica's instance ID.
func (b *Base) InstanceID() types.InstanceID { return b.instanceID }

// Version returns the replica's current version.
func (b *Base) Version() types.Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// SetVersion advances the replica's version. Version is non-decreasing;
// callers own enforcing that (the update flow driving versions forward is
// external to this package).
func (b *Base) SetVersion(v types.Version) {
	b.mu.Lock()
	b.version = v
	b.mu.Unlock()
	if b.session != nil {
		b.session.CommandQueue().Notify(b.objectID)
	}
}

// Session returns the session this replica is attached to, or nil before
// attach.
func (b *Base) Session() *core.Session { return b.session }

// Send transmits payload as a command-coded packet addressed to this
// replica, to node. A contributor sending to the master sets
// instanceID = ANY, since the master doesn't know the contributor's
// instance ID; toMaster selects that behavior.
func (b *Base) Send(node *core.Node, command wire.Command, payload interface{}, toMaster bool) error {
	encoded, err := wire.Encode(payload)
	if err != nil {
		return err
	}
	instanceID := uint32(b.instanceID)
	if toMaster {
		instanceID = uint32(types.InstanceIDAny)
	}
	header := wire.ObjectHeader{
		Header: wire.Header{
			Datatype: wire.DatatypeObject,
			Command:  command,
		},
		SessionID:  uint32(b.session.ID()),
		ObjectID:   uint32(b.objectID),
		InstanceID: instanceID,
	}
	return node.Send(header, encoded)
}

// RegisterHandler registers fn for command on this replica's object ID,
// once attached. Concrete objects call this from their OnAttach override.
func (b *Base) RegisterHandler(command wire.Command, fn core.HandlerFunc) {
	b.session.CommandQueue().RegisterHandler(b.objectID, b.instanceID, command, fn)
}
