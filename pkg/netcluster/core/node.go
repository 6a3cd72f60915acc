package core

import (
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
)

// Node is what a distributed object sends packets to: a thin identity +
// transport pairing. Connection establishment lives above this package.
//
// Send is uniform whether a Node is local or remote - both hold a
// Connection, a remote one reaching the peer over a real transport, a
// local one looping back to the owning session's own queue. The only
// place locality changes behavior is the barrier master's fan-out, which
// skips the wire and bumps leaveNotify directly for contributors where
// IsLocal() is true, rather than this type special-casing Send itself.
type Node struct {
	id    types.NodeID
	local bool
	conn  Connection
}

// NewLocalNode builds the Node representing the process's own identity,
// wired to loop back to conn (normally one end of a LocalConnection pair
// whose other end the owning session reads from). IsLocal() is always
// true for this handle.
func NewLocalNode(id types.NodeID, conn Connection) *Node {
	return &Node{id: id, local: true, conn: conn}
}

// NewRemoteNode builds a Node reached over conn. IsLocal() is always
// false: a Node is only ever "local" when it's the process's own identity.
func NewRemoteNode(id types.NodeID, conn Connection) *Node {
	return &Node{id: id, local: false, conn: conn}
}

// ID returns this node's identity.
func (n *Node) ID() types.NodeID { return n.id }

// adopt retargets an anonymous Node handle (one built at accept time,
// before the peer has announced itself) to its real identity, once
// CMD_NODE_CONNECT arrives. It never changes locality.
func (n *Node) adopt(id types.NodeID) { n.id = id }

// IsLocal reports whether this handle refers to the process's own node.
func (n *Node) IsLocal() bool { return n.local }

// Send transmits a framed packet to this node.
func (n *Node) Send(header wire.ObjectHeader, payload []byte) error {
	frame, err := wire.Frame(header, payload)
	if err != nil {
		return types.NewTransportFailure(err)
	}
	if err := n.conn.SendFrame(frame); err != nil {
		return types.NewTransportFailure(err)
	}
	return nil
}
