package core

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/jabolina/netcluster/pkg/netcluster/types"
	"github.com/pkg/errors"
	prom "github.com/prometheus/common/log"
)

// Connection is the point-to-point transport a Node sends full wire frames
// over. Establishing one (dialing, accepting, discovery) belongs to the
// layer above; this is the minimal collaborator the dispatcher and
// barrier exercise.
type Connection interface {
	// SendFrame writes a complete, already-framed packet (as built by
	// wire.Frame) to the peer.
	SendFrame(frame []byte) error

	// Frames yields frames as they arrive from the peer.
	Frames() <-chan []byte

	Close() error
}

// LocalConnection loops frames back in-process. It is used for same-node
// replicas and for tests. The barrier master's "isLocal" optimization
// bypasses it entirely: local contributors are released without sending
// any frame.
type LocalConnection struct {
	mu     sync.Mutex
	peer   *LocalConnection
	frames chan []byte
	closed bool
}

// NewLocalConnectionPair builds two LocalConnections wired to each other,
// so a send on one arrives as a frame on the other.
func NewLocalConnectionPair() (*LocalConnection, *LocalConnection) {
	a := &LocalConnection{frames: make(chan []byte, 64)}
	b := &LocalConnection{frames: make(chan []byte, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *LocalConnection) SendFrame(frame []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.New("connection closed")
	}
	// Lock the peer's own mutex (not l's) while checking/writing to its
	// frames channel: Close (on the peer) closes that channel under the
	// same lock, so this can't race a send against a close.
	peer := l.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return errors.New("connection closed")
	}
	select {
	case peer.frames <- frame:
		return nil
	default:
		return errors.New("local connection buffer full")
	}
}

func (l *LocalConnection) Frames() <-chan []byte {
	return l.frames
}

func (l *LocalConnection) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.frames)
	return nil
}

// TCPConnection is a real point-to-point socket transport. Frames are
// length-delimited by the wire.Header.Size field the frame already
// carries, so reading is just: read the 8-byte Size field, read Size-8
// more bytes, hand the whole frame to the listener.
type TCPConnection struct {
	conn   net.Conn
	reader *bufio.Reader
	frames chan []byte
	log    types.Logger
	done   chan struct{}
}

// NewTCPConnection wraps an already-established net.Conn (dialing /
// accepting it is the out-of-scope connection-establishment layer) and
// starts the background reader that feeds Frames().
func NewTCPConnection(conn net.Conn, log types.Logger) *TCPConnection {
	t := &TCPConnection{
		conn:   conn,
		reader: bufio.NewReader(conn),
		frames: make(chan []byte, 64),
		log:    log,
		done:   make(chan struct{}),
	}
	go t.poll()
	return t
}

func (t *TCPConnection) SendFrame(frame []byte) error {
	_, err := t.conn.Write(frame)
	return errors.Wrap(err, "tcp send frame")
}

func (t *TCPConnection) Frames() <-chan []byte {
	return t.frames
}

func (t *TCPConnection) Close() error {
	close(t.done)
	return t.conn.Close()
}

// poll reads frames off the socket until the connection closes.
func (t *TCPConnection) poll() {
	defer close(t.frames)
	for {
		header := make([]byte, 8)
		if _, err := io.ReadFull(t.reader, header); err != nil {
			if err != io.EOF {
				prom.Errorf("tcp connection read failed: %v", err)
			}
			return
		}
		size := binary.LittleEndian.Uint64(header)
		if size < 8 {
			prom.Errorf("tcp connection got malformed frame size %d", size)
			return
		}
		rest := make([]byte, size-8)
		if _, err := io.ReadFull(t.reader, rest); err != nil {
			prom.Errorf("tcp connection read payload failed: %v", err)
			return
		}
		frame := append(header, rest...)
		select {
		case t.frames <- frame:
		case <-t.done:
			return
		}
	}
}

var _ Connection = (*LocalConnection)(nil)
var _ Connection = (*TCPConnection)(nil)
