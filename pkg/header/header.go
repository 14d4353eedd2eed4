// Package header implements the fixed-size integrity header prefixed to
// every physical block, plus the physical/virtual size translation.
//
// Layout (little-endian, byte-exact):
//
//	offset 0   FormatMarker  (2 bytes)
//	offset 2   ClientID      (4 bytes)
//	offset 6   Version       (8 bytes)
//	offset 14  virtual data
package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CurrentFormat identifies the header layout produced by this package
	CurrentFormat = uint16(1)

	// Field offsets within the header
	FormatOffset   = 0
	ClientIDOffset = 2
	VersionOffset  = 6

	// HeaderSize is the fixed number of bytes prepended to every block
	HeaderSize = 14
)

var (
	ErrTooShort        = errors.New("physical block too short for header")
	ErrBadFormatMarker = errors.New("unrecognized header format marker")
)

// Header is the decoded integrity header of a physical block.
type Header struct {
	Format   uint16
	ClientID uint32
	Version  uint64
}

// Encode serializes a header for the given writer and version.
// The result is always exactly HeaderSize bytes.
func Encode(clientID uint32, version uint64) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[FormatOffset:FormatOffset+2], CurrentFormat)
	binary.LittleEndian.PutUint32(buf[ClientIDOffset:ClientIDOffset+4], clientID)
	binary.LittleEndian.PutUint64(buf[VersionOffset:VersionOffset+8], version)
	return buf
}

// Stamp re-encodes the header in place over an existing physical buffer.
// The buffer must be at least HeaderSize bytes.
func Stamp(physical []byte, clientID uint32, version uint64) error {
	if len(physical) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(physical), HeaderSize)
	}
	binary.LittleEndian.PutUint16(physical[FormatOffset:FormatOffset+2], CurrentFormat)
	binary.LittleEndian.PutUint32(physical[ClientIDOffset:ClientIDOffset+4], clientID)
	binary.LittleEndian.PutUint64(physical[VersionOffset:VersionOffset+8], version)
	return nil
}

// Decode parses the header at the start of a physical block.
// A short buffer or an unknown format marker is corruption, never rollback.
func Decode(physical []byte) (Header, error) {
	if len(physical) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, len(physical), HeaderSize)
	}

	h := Header{
		Format:   binary.LittleEndian.Uint16(physical[FormatOffset : FormatOffset+2]),
		ClientID: binary.LittleEndian.Uint32(physical[ClientIDOffset : ClientIDOffset+4]),
		Version:  binary.LittleEndian.Uint64(physical[VersionOffset : VersionOffset+8]),
	}

	if h.Format != CurrentFormat {
		return Header{}, fmt.Errorf("%w: %d", ErrBadFormatMarker, h.Format)
	}

	return h, nil
}

// VirtualSize maps a physical block size to the caller-visible size.
// Physical sizes at or below HeaderSize map to zero; this never underflows.
func VirtualSize(physicalSize uint64) uint64 {
	if physicalSize <= HeaderSize {
		return 0
	}
	return physicalSize - HeaderSize
}

// PhysicalSize maps a caller-visible size to the stored block size.
func PhysicalSize(virtualSize uint64) uint64 {
	return virtualSize + HeaderSize
}
