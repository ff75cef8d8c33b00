package transport

import (
	"encoding/binary"
	"fmt"
)

// Rank identifies one participant in the fabric, mirroring an MPI rank.
type Rank int32

// Tag demultiplexes messages the way MPI tags do. Any transport
// substituted for this fabric must use these same integer values so
// traces stay comparable across implementations.
type Tag int32

const (
	TagSenderKind       Tag = 0 // any -> coordinator: int32 sender_kind
	TagProbeSize        Tag = 1 // writer -> coordinator: int32 size
	TagDecisionAccepted Tag = 2 // coordinator -> writer: int32 accepted (0/1)
	TagDecisionTarget   Tag = 3 // coordinator -> writer: int32 target_rank
	TagIngestSize       Tag = 4 // writer -> BB: int32 size
	TagIngestData       Tag = 5 // writer -> BB: bytes[size]
	TagBBReport         Tag = 6 // BB -> coordinator: uint64 new_occupancy
)

// SenderKind distinguishes the two senders that address the coordinator on
// TagSenderKind.
type SenderKind int32

const (
	SenderKindBBReport    SenderKind = 0
	SenderKindWriterProbe SenderKind = 1
)

// EncodeInt32 / DecodeInt32 and EncodeUint64 / DecodeUint64 give every role
// the same big-endian wire framing the rest of the pack's protocol code
// uses (encoding/binary over a fixed-width field), so a message tag's
// payload is always an unambiguous byte count.

func EncodeInt32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func DecodeInt32(b []byte) (int32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("transport: int32 payload must be 4 bytes, got %d", len(b))
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("transport: uint64 payload must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Envelope is a received message: its tag, its payload, and the rank that
// sent it.
type Envelope struct {
	Tag     Tag
	Source  Rank
	Payload []byte
}
