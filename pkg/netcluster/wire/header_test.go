package wire

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	header := ObjectHeader{
		Header: Header{
			Datatype: DatatypeObject,
			Command:  CmdBarrierEnter,
		},
		SessionID:  1,
		ObjectID:   42,
		InstanceID: ^uint32(0),
	}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	frame, err := Frame(header, payload)
	if err != nil {
		t.Fatalf("Frame failed: %v", err)
	}

	got, gotPayload, err := ParseObjectFrame(frame)
	if err != nil {
		t.Fatalf("ParseObjectFrame failed: %v", err)
	}

	if got.Datatype != header.Datatype || got.Command != header.Command ||
		got.SessionID != header.SessionID || got.ObjectID != header.ObjectID ||
		got.InstanceID != header.InstanceID {
		t.Fatalf("header mismatch: got %+v, want %+v", got, header)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload mismatch: got %v, want %v", gotPayload, payload)
	}
	if got.Size != uint64(16+12+len(payload)) {
		t.Fatalf("unexpected frame size: got %d", got.Size)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	want := BarrierEnterPayload{Version: 9, RequestorID: [16]byte{1, 2, 3}}
	encoded, err := Encode(want)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var got BarrierEnterPayload
	if err := Decode(encoded, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

