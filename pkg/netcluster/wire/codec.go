package wire

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
)

var handle = &codec.MsgpackHandle{}

// Encode serializes v (a struct of plain fields) into the opaque payload
// that rides after the header, covering everything beyond the
// fixed-layout header fields.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return buf.Bytes(), nil
}

// Decode deserializes a payload produced by Encode into v.
func Decode(payload []byte, v interface{}) error {
	dec := codec.NewDecoder(bytes.NewReader(payload), handle)
	return errors.Wrap(dec.Decode(v), "decode payload")
}

// BarrierEnterPayload is the payload of a BARRIER_ENTER packet.
type BarrierEnterPayload struct {
	Version     uint32
	RequestorID [16]byte
}

// BarrierInstanceData is the (height, masterID) pair a barrier master
// serializes at attach time for its slave replicas.
type BarrierInstanceData struct {
	Height   uint32
	MasterID [16]byte
}

// NodeConnectPayload is sent immediately after a connection is
// established, announcing the sender's identity so the accepting side can
// retarget its anonymous Node handle - the supplemented Node packet
// family's CMD_NODE_CONNECT.
type NodeConnectPayload struct {
	NodeID          [16]byte
	ProtocolVersion string
}

// SessionRegisterObjectPayload announces a freshly allocated object ID to
// the node that's about to hold a replica of it, carrying the one object
// kind this library ships today - a barrier's instance data. A session
// juggling more than one Registrable kind would widen this into a tagged
// union.
type SessionRegisterObjectPayload struct {
	ObjectID uint32
	Height   uint32
	MasterID [16]byte
}

// ObjectIDPayload is the CmdSessionGenIDsReply body: the freshly
// allocated object ID.
type ObjectIDPayload struct {
	ObjectID uint32
}
