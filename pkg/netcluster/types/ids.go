// Package types defines the shared identifiers, versions and small value
// types used across the node, session, object and barrier packages.
package types

import (
	"github.com/google/uuid"
)

// NodeID uniquely identifies a live node across the cluster. It is opaque
// to the core: nodes are compared for equality and ordering only.
type NodeID uuid.UUID

// NodeIDZero is the sentinel meaning "unset".
var NodeIDZero = NodeID{}

// NewNodeID generates a fresh random node identity.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses the canonical textual representation of a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NodeIDZero, err
	}
	return NodeID(id), nil
}

func (n NodeID) String() string {
	return uuid.UUID(n).String()
}

// IsZero reports whether n is the unset sentinel.
func (n NodeID) IsZero() bool {
	return n == NodeIDZero
}

// Less gives a stable total order over NodeIDs, used to sort the barrier's
// contributor list deterministically before replying.
func (n NodeID) Less(other NodeID) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

// ObjectID identifies a distributed object within a session.
type ObjectID uint32

// InstanceID identifies one replica of an object on one node.
type InstanceID uint32

// InstanceIDAny means "deliver to any replica of this object on the
// receiving node" - used by a contributor that doesn't know the master's
// instance ID.
const InstanceIDAny InstanceID = ^InstanceID(0)

// SessionID identifies a session.
type SessionID uint32

// Version is a monotonic non-negative scalar marking an object's logical
// state. Barrier rendezvous are scoped per version.
type Version uint32

// VersionNone marks an object that has not yet been initialized.
const VersionNone Version = 0

// VersionFirst is the first usable version, the one after VersionNone.
const VersionFirst Version = VersionNone + 1
