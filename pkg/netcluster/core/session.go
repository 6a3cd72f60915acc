package core

import (
	"sync"

	goversion "github.com/hashicorp/go-version"
	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/jabolina/netcluster/pkg/netcluster/wire"
	"github.com/pkg/errors"
)

// Registrable is implemented by anything a Session can register as a
// distributed object. OnAttach is invoked once, after the session has
// assigned the object its ID, so the object can register its command
// handlers into the session's queue.
type Registrable interface {
	OnAttach(session *Session, objectID types.ObjectID, instanceID types.InstanceID)
}

// idGenerator hands out contiguous session-unique IDs under a single
// lock.
type idGenerator struct {
	mu   sync.Mutex
	next uint32
}

func (g *idGenerator) generate() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

// Session maps object IDs to distributed objects, scoped to a session ID.
// It owns exactly one command queue and one command thread.
type Session struct {
	id types.SessionID

	log types.Logger

	localNode *Node
	server    *Node

	queue *Queue

	ids idGenerator

	mu          sync.RWMutex
	objects     map[types.ObjectID]map[types.InstanceID]Registrable
	instanceIDs map[types.ObjectID]*idGenerator
	// known maps a remote node's identity to a handle reachable over a
	// Connection, the minimal "node discovery" a caller must populate
	// for Session.Connect to resolve anything. Discovery proper lives in
	// the connection-establishment layer above this package.
	known map[types.NodeID]*Node

	genIDReplies chan uint32
	announce     chan SessionObjectAnnouncement

	// conns is every Connection this session pumps frames from - the
	// self-loop pair NewLocalSession wires up plus whatever Listen is
	// later called with. Stop closes all of them so their pump
	// goroutines actually exit instead of blocking forever on a channel
	// nothing will ever close or send to again.
	conns []Connection

	// protocolVersion is advertised in CMD_NODE_CONNECT and checked
	// against every peer's own advertised version; a peer with a
	// different major version is rejected rather than adopted.
	protocolVersion *goversion.Version
}

// SessionObjectAnnouncement is delivered over Session.Announcements() when
// a master pushes a freshly registered object's instance data to this
// session via CMD_SESSION_REGISTER_OBJECT.
type SessionObjectAnnouncement struct {
	ObjectID types.ObjectID
	Height   uint32
	MasterID types.NodeID
}

// NewSession creates a session owned by localNode, with server as the
// node used for ID/master lookups. The command thread is not started
// until Run is called.
func NewSession(id types.SessionID, localNode *Node, server *Node, log types.Logger) *Session {
	s := &Session{
		id:              id,
		log:             log,
		localNode:       localNode,
		server:          server,
		queue:           NewQueue(log),
		objects:         make(map[types.ObjectID]map[types.InstanceID]Registrable),
		instanceIDs:     make(map[types.ObjectID]*idGenerator),
		known:           make(map[types.NodeID]*Node),
		genIDReplies:    make(chan uint32, 1),
		announce:        make(chan SessionObjectAnnouncement, 8),
		protocolVersion: types.LatestProtocolVersion,
	}
	if localNode != nil {
		s.known[localNode.ID()] = localNode
	}
	s.queue.RegisterHandler(sessionControlObjectID, sessionControlInstanceID, wire.CmdNodeConnect, s.handleNodeConnect)
	s.queue.RegisterHandler(sessionControlObjectID, sessionControlInstanceID, wire.CmdNodeStop, s.handleNodeStop)
	s.queue.RegisterHandler(sessionControlObjectID, sessionControlInstanceID, wire.CmdSessionGenIDs, s.handleGenIDsRequest)
	s.queue.RegisterHandler(sessionControlObjectID, sessionControlInstanceID, wire.CmdSessionGenIDsReply, s.handleGenIDsReply)
	s.queue.RegisterHandler(sessionControlObjectID, sessionControlInstanceID, wire.CmdSessionRegisterObject, s.handleRegisterObject)
	return s
}

// NewLocalSession builds a session for a brand-new node identity, wiring
// its local node to a self-loop so Node.Send works uniformly for local
// and remote recipients (see core.Node's doc comment). The returned
// session's command thread is not started until Run is called.
func NewLocalSession(id types.SessionID, nodeID types.NodeID, log types.Logger) *Session {
	selfSide, loopSide := NewLocalConnectionPair()
	localNode := NewLocalNode(nodeID, selfSide)
	s := NewSession(id, localNode, localNode, log)
	s.Listen(loopSide, localNode)
	return s
}

// Listen pumps frames arriving on conn into the session's dispatch queue,
// tagging each decoded Command with from as its origin node. Callers wire
// this for every remote Connection a node accepts or dials - the
// out-of-scope connection-establishment layer's one obligation to the
// core. The connection is closed when the session Stops, so its pump
// goroutine always exits.
func (s *Session) Listen(conn Connection, from *Node) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	go s.pump(conn, from)
}

func (s *Session) pump(conn Connection, from *Node) {
	for frame := range conn.Frames() {
		header, payload, err := wire.ParseObjectFrame(frame)
		if err != nil {
			s.log.Warnf("protocol violation: malformed frame from %s: %v", from.ID(), err)
			continue
		}
		s.Deliver(&Command{Header: header, Payload: payload, node: from})
	}
}

// ID returns the session's ID.
func (s *Session) ID() types.SessionID { return s.id }

// LocalNode returns the node that owns this session.
func (s *Session) LocalNode() *Node { return s.localNode }

// Server returns the session's server node, used for ID/master lookups.
func (s *Session) Server() *Node { return s.server }

// CommandQueue returns the session's command queue.
func (s *Session) CommandQueue() *Queue { return s.queue }

// Logger returns the session's logger.
func (s *Session) Logger() types.Logger { return s.log }

// Run starts the command thread. Callers typically do `go session.Run()`.
func (s *Session) Run() { s.queue.Run() }

// Stop terminates the command thread and closes every connection this
// session pumps frames from, so no pump goroutine outlives the session.
func (s *Session) Stop() {
	s.queue.Stop()
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Remember registers a node handle as reachable, so a later Connect(id)
// can resolve it. Stands in for the out-of-scope discovery/connect layer.
func (s *Session) Remember(node *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[node.ID()] = node
}

// Connect resolves a previously-Remembered node by ID. This is the lazy
// lookup a barrier replica performs the first time it needs its master.
func (s *Session) Connect(id types.NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.known[id]
	if !ok {
		return nil, errors.Errorf("no known connection to node %s", id)
	}
	return node, nil
}

// GenerateObjectID allocates a fresh session-unique object ID.
func (s *Session) GenerateObjectID() types.ObjectID {
	return types.ObjectID(s.ids.generate())
}

// nextInstanceID allocates the next instance ID for objectID. A node may
// attach more than one replica of the same object, so instance IDs are
// per-object, not per-session.
func (s *Session) nextInstanceID(objectID types.ObjectID) types.InstanceID {
	s.mu.Lock()
	gen, ok := s.instanceIDs[objectID]
	if !ok {
		gen = &idGenerator{}
		s.instanceIDs[objectID] = gen
	}
	s.mu.Unlock()
	return types.InstanceID(gen.generate())
}

// RegisterObject assigns obj a fresh object ID and the first instance ID
// under it, attaches it to the session, and tracks it for lookup. This is
// the master side of attach: the object ID doesn't exist anywhere yet.
func (s *Session) RegisterObject(obj Registrable) types.ObjectID {
	objectID := s.GenerateObjectID()
	instanceID := s.nextInstanceID(objectID)
	s.attach(objectID, instanceID, obj)
	return objectID
}

// MapObject attaches obj as a new replica under an already-known object
// ID (the slave side of attach: the master announced the ID out of
// band), returning the instance ID assigned to this replica.
func (s *Session) MapObject(objectID types.ObjectID, obj Registrable) types.InstanceID {
	instanceID := s.nextInstanceID(objectID)
	s.attach(objectID, instanceID, obj)
	return instanceID
}

func (s *Session) attach(objectID types.ObjectID, instanceID types.InstanceID, obj Registrable) {
	s.mu.Lock()
	instances, ok := s.objects[objectID]
	if !ok {
		instances = make(map[types.InstanceID]Registrable)
		s.objects[objectID] = instances
	}
	instances[instanceID] = obj
	s.mu.Unlock()
	obj.OnAttach(s, objectID, instanceID)
}

// Unregister detaches one replica of objectID: its handlers stop being
// invoked, and if it was the last attached replica, any side-parked
// packets for the object are dropped too.
func (s *Session) Unregister(objectID types.ObjectID, instanceID types.InstanceID) {
	s.mu.Lock()
	if instances, ok := s.objects[objectID]; ok {
		delete(instances, instanceID)
		if len(instances) == 0 {
			delete(s.objects, objectID)
		}
	}
	s.mu.Unlock()
	s.queue.Unregister(objectID, instanceID)
}

// Deliver parks an incoming Command for dispatch on the command thread.
// Sessions wire this as the sink for their Connection's Frames() channel.
func (s *Session) Deliver(cmd *Command) {
	s.queue.Push(cmd)
}

// sessionControlObjectID and sessionControlInstanceID address the Node and
// Session command families: they're session-level, not object-level, so
// they're parked under the one object ID GenerateObjectID never hands out.
const sessionControlObjectID = types.ObjectID(0)
const sessionControlInstanceID = types.InstanceID(0)

func controlHeader(sessionID types.SessionID, command wire.Command) wire.ObjectHeader {
	return wire.ObjectHeader{
		Header: wire.Header{
			Datatype: wire.DatatypeSession,
			Command:  command,
		},
		SessionID:  uint32(sessionID),
		ObjectID:   uint32(sessionControlObjectID),
		InstanceID: uint32(sessionControlInstanceID),
	}
}

// AnnounceSelf sends this session's local node identity to to, the
// CMD_NODE_CONNECT handshake a dialer/acceptor performs right after a
// Connection is established, before the peer's Node handle carries a real
// identity.
func (s *Session) AnnounceSelf(to *Node) error {
	var id [16]byte
	localID := s.localNode.ID()
	copy(id[:], localID[:])
	payload, err := wire.Encode(wire.NodeConnectPayload{
		NodeID:          id,
		ProtocolVersion: s.protocolVersion.String(),
	})
	if err != nil {
		return err
	}
	return to.Send(controlHeader(s.id, wire.CmdNodeConnect), payload)
}

func (s *Session) handleNodeConnect(cmd *Command) Verdict {
	var payload wire.NodeConnectPayload
	if err := cmd.Decode(&payload); err != nil {
		s.log.Warnf("protocol violation: malformed node-connect: %v", err)
		return Discard
	}
	peerVersion, err := goversion.NewVersion(payload.ProtocolVersion)
	if err != nil {
		s.log.Warnf("protocol violation: unparseable protocol version %q: %v", payload.ProtocolVersion, err)
		return Discard
	}
	// Only the major version has to agree; a newer minor on either side is
	// still wire-compatible.
	if peerVersion.Segments()[0] != s.protocolVersion.Segments()[0] {
		s.log.Warn(types.NewUnsupportedProtocol(peerVersion.String(), s.protocolVersion.String()))
		return Discard
	}
	node := cmd.GetNode()
	node.adopt(types.NodeID(payload.NodeID))
	s.Remember(node)
	return Discard
}

// AnnounceStop tells to that this session's local node is leaving -
// CMD_NODE_STOP.
func (s *Session) AnnounceStop(to *Node) error {
	return to.Send(controlHeader(s.id, wire.CmdNodeStop), nil)
}

func (s *Session) handleNodeStop(cmd *Command) Verdict {
	id := cmd.GetNode().ID()
	s.mu.Lock()
	delete(s.known, id)
	s.mu.Unlock()
	s.log.Infof("node %s left the session", id)
	return Discard
}

// RequestObjectID asks master for a fresh, cluster-unique object ID -
// CMD_SESSION_GEN_IDS. Object IDs are handed out by a single authority so
// independently-generated IDs on different nodes never collide; only the
// master calls GenerateObjectID directly, everyone else requests one.
func (s *Session) RequestObjectID(master *Node) (types.ObjectID, error) {
	if err := master.Send(controlHeader(s.id, wire.CmdSessionGenIDs), nil); err != nil {
		return 0, err
	}
	select {
	case id := <-s.genIDReplies:
		return types.ObjectID(id), nil
	case <-s.queue.done:
		return 0, errors.Errorf("session stopped while awaiting object ID")
	}
}

func (s *Session) handleGenIDsRequest(cmd *Command) Verdict {
	id := s.GenerateObjectID()
	payload, err := wire.Encode(wire.ObjectIDPayload{ObjectID: uint32(id)})
	if err != nil {
		s.log.Errorf("encode gen-id reply: %v", err)
		return Discard
	}
	if err := cmd.GetNode().Send(controlHeader(s.id, wire.CmdSessionGenIDsReply), payload); err != nil {
		s.log.Errorf("send gen-id reply to %s: %v", cmd.GetNode().ID(), err)
	}
	return Discard
}

func (s *Session) handleGenIDsReply(cmd *Command) Verdict {
	var payload wire.ObjectIDPayload
	if err := cmd.Decode(&payload); err != nil {
		s.log.Warnf("protocol violation: malformed gen-id reply: %v", err)
		return Discard
	}
	select {
	case s.genIDReplies <- payload.ObjectID:
	default:
		// A reply for a request nobody is waiting on anymore; drop it
		// rather than block the command thread.
	}
	return Discard
}

// AnnounceObject pushes a freshly allocated object's instance data to to -
// CMD_SESSION_REGISTER_OBJECT, the master side of attach.
func (s *Session) AnnounceObject(to *Node, objectID types.ObjectID, height uint32, masterID types.NodeID) error {
	var mid [16]byte
	copy(mid[:], masterID[:])
	payload, err := wire.Encode(wire.SessionRegisterObjectPayload{
		ObjectID: uint32(objectID),
		Height:   height,
		MasterID: mid,
	})
	if err != nil {
		return err
	}
	return to.Send(controlHeader(s.id, wire.CmdSessionRegisterObject), payload)
}

func (s *Session) handleRegisterObject(cmd *Command) Verdict {
	var payload wire.SessionRegisterObjectPayload
	if err := cmd.Decode(&payload); err != nil {
		s.log.Warnf("protocol violation: malformed register-object: %v", err)
		return Discard
	}
	announcement := SessionObjectAnnouncement{
		ObjectID: types.ObjectID(payload.ObjectID),
		Height:   payload.Height,
		MasterID: types.NodeID(payload.MasterID),
	}
	select {
	case s.announce <- announcement:
	case <-s.queue.done:
	}
	return Discard
}

// Announcements returns the channel of object registrations pushed to
// this session by a remote master. Applications range over it to
// materialize and MapObject the corresponding replica (today: always a
// barrier.Barrier, per SessionRegisterObjectPayload's doc comment).
func (s *Session) Announcements() <-chan SessionObjectAnnouncement {
	return s.announce
}
