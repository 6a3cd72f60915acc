// Package wire implements the on-wire packet envelope: the fixed 16-byte
// header shared by every message, the object-packet extension, and the
// codec used for the variable-length payload that follows.
//
// Every message begins with (size uint64, datatype uint32, command uint32),
// little-endian, 8-byte aligned. Object-scoped packets extend the header
// with (sessionID, objectID, instanceID uint32). These layouts are fixed
// across protocol versions.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Datatype selects the dispatch family at the very first decode step.
type Datatype uint32

const (
	DatatypeNode    Datatype = 0
	DatatypeSession Datatype = 1
	DatatypeObject  Datatype = 2
	// DatatypeCustom is the first value available to custom extensions.
	DatatypeCustom Datatype = 0x80
)

// Command identifies the handler within a datatype family.
type Command uint32

const (
	// Node family.
	CmdNodeStop Command = iota + 1
	CmdNodeConnect

	// Session family.
	CmdSessionGenIDs
	CmdSessionGenIDsReply
	CmdSessionRegisterObject

	// Object family.
	CmdObjectSync

	// Barrier commands, fixed across versions.
	CmdBarrierEnter
	CmdBarrierEnterReply
)

// headerSize is the encoded size of Header, 8-byte aligned as specified.
const headerSize = 16

// Header is the envelope shared by every wire message.
type Header struct {
	Size     uint64
	Datatype Datatype
	Command  Command
}

// Encode writes the header in little-endian, 8-byte-aligned layout.
func (h Header) Encode(w io.Writer) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.Size)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Datatype))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Command))
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "encode header")
}

// DecodeHeader reads a Header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, errors.Wrap(err, "decode header")
	}
	return Header{
		Size:     binary.LittleEndian.Uint64(buf[0:8]),
		Datatype: Datatype(binary.LittleEndian.Uint32(buf[8:12])),
		Command:  Command(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// ObjectHeader extends Header with the addressing triple used by every
// Session/Object family packet.
type ObjectHeader struct {
	Header
	SessionID  uint32
	ObjectID   uint32
	InstanceID uint32
}

const objectHeaderExtraSize = 12

// Encode writes the full object header (base header + addressing triple).
func (h ObjectHeader) Encode(w io.Writer) error {
	if err := h.Header.Encode(w); err != nil {
		return err
	}
	var buf [objectHeaderExtraSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.SessionID)
	binary.LittleEndian.PutUint32(buf[4:8], h.ObjectID)
	binary.LittleEndian.PutUint32(buf[8:12], h.InstanceID)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "encode object header")
}

// DecodeObjectHeader reads an ObjectHeader, assuming the base Header has
// already been consumed from r (as ParseObjectFrame does).
func DecodeObjectHeader(base Header, r io.Reader) (ObjectHeader, error) {
	var buf [objectHeaderExtraSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ObjectHeader{}, errors.Wrap(err, "decode object header")
	}
	return ObjectHeader{
		Header:     base,
		SessionID:  binary.LittleEndian.Uint32(buf[0:4]),
		ObjectID:   binary.LittleEndian.Uint32(buf[4:8]),
		InstanceID: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Frame renders a full wire packet: header + object header + payload,
// with Size filled in to cover the whole frame.
func Frame(h ObjectHeader, payload []byte) ([]byte, error) {
	h.Header.Size = uint64(headerSize + objectHeaderExtraSize + len(payload))
	var buf bytes.Buffer
	if err := h.Encode(&buf); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// ParseObjectFrame decodes a full frame produced by Frame back into its
// ObjectHeader and payload. Used on the receiving side of a Connection,
// whether it's a real socket or an in-process loopback.
func ParseObjectFrame(frame []byte) (ObjectHeader, []byte, error) {
	r := bytes.NewReader(frame)
	base, err := DecodeHeader(r)
	if err != nil {
		return ObjectHeader{}, nil, err
	}
	header, err := DecodeObjectHeader(base, r)
	if err != nil {
		return ObjectHeader{}, nil, err
	}
	payload := make([]byte, r.Len())
	if _, err := io.ReadFull(r, payload); err != nil {
		return ObjectHeader{}, nil, errors.Wrap(err, "read payload")
	}
	return header, payload, nil
}
