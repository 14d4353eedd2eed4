package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/LatchDB/latch/pkg/raw"
)

const (
	// Record framing
	// - CRC (4 bytes)
	// - Length (2 bytes)
	// - Type (1 byte)
	recordHeaderSize = 7

	// Record types
	recordTypeVersion = 1
	recordTypeDelete  = 2

	// Version payload layout: key(16) + clientID(4) + version(8)
	versionPayloadSize = raw.KeyLen + 4 + 8
	// Delete payload layout: key(16)
	deletePayloadSize = raw.KeyLen
)

var (
	ErrCorruptRecord     = errors.New("corrupt ledger record")
	ErrInvalidRecordType = errors.New("invalid ledger record type")
)

// record is one durable ledger update: either an accepted version for a
// (key, client) pair, or a deletion marker for a key.
type record struct {
	recordType byte
	key        raw.Key
	clientID   uint32 // version records only
	version    uint64 // version records only
}

func payloadSizeFor(recordType byte) (int, error) {
	switch recordType {
	case recordTypeVersion:
		return versionPayloadSize, nil
	case recordTypeDelete:
		return deletePayloadSize, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidRecordType, recordType)
	}
}

// encodeRecord frames a record for the log.
func encodeRecord(r record) ([]byte, error) {
	payloadSize, err := payloadSizeFor(r.recordType)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, recordHeaderSize+payloadSize)
	payload := buf[recordHeaderSize:]

	copy(payload[:raw.KeyLen], r.key[:])
	if r.recordType == recordTypeVersion {
		binary.LittleEndian.PutUint32(payload[raw.KeyLen:raw.KeyLen+4], r.clientID)
		binary.LittleEndian.PutUint64(payload[raw.KeyLen+4:], r.version)
	}

	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(payloadSize))
	buf[6] = r.recordType

	return buf, nil
}

// decodePayload parses a record payload of the given type.
func decodePayload(recordType byte, payload []byte) (record, error) {
	expected, err := payloadSizeFor(recordType)
	if err != nil {
		return record{}, err
	}
	if len(payload) != expected {
		return record{}, fmt.Errorf("%w: payload is %d bytes, expected %d",
			ErrCorruptRecord, len(payload), expected)
	}

	r := record{recordType: recordType}
	copy(r.key[:], payload[:raw.KeyLen])
	if recordType == recordTypeVersion {
		r.clientID = binary.LittleEndian.Uint32(payload[raw.KeyLen : raw.KeyLen+4])
		r.version = binary.LittleEndian.Uint64(payload[raw.KeyLen+4:])
	}
	return r, nil
}
