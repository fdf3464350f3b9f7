package data

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// On-disk frame layout, little-endian:
//
//	totalLength-4 | tombstone-1 | typeId-2 | keyLength-4 | key | payloadLength-4 | payload | crc32-4
//
// totalLength counts the whole frame including the trailing CRC. The CRC
// covers every byte of the frame before it.
const (
	frameHeaderSize = 4 + 1 + 2 + 4
	crcSize         = 4

	// MinFrameSize smallest possible frame: header + empty key + payloadLength + empty payload + crc
	MinFrameSize = frameHeaderSize + 4 + crcSize

	// MaxFrameSize upper bound used as a sanity check during scans
	MaxFrameSize = 1 << 30
)

var ErrInvalidCRC = errors.New("invalid crc value, frame maybe corrupted")

// Frame is one record appended to a box log file.
type Frame struct {
	Key       []byte
	Payload   []byte
	TypeID    uint16
	Tombstone bool
}

// FramePos describes where a frame lives on disk.
type FramePos struct {
	Offset int64  // offset of the frame header within the log file
	Size   uint32 // total frame size in bytes
}

// EncodeFrame serializes a frame, returning the byte slice and its length.
func EncodeFrame(f *Frame) ([]byte, uint32) {
	total := uint32(frameHeaderSize + len(f.Key) + 4 + len(f.Payload) + crcSize)
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], total)
	if f.Tombstone {
		buf[4] = 1
	}
	binary.LittleEndian.PutUint16(buf[5:7], f.TypeID)
	binary.LittleEndian.PutUint32(buf[7:11], uint32(len(f.Key)))
	idx := frameHeaderSize
	idx += copy(buf[idx:], f.Key)
	binary.LittleEndian.PutUint32(buf[idx:idx+4], uint32(len(f.Payload)))
	idx += 4
	idx += copy(buf[idx:], f.Payload)

	crc := crc32.ChecksumIEEE(buf[:idx])
	binary.LittleEndian.PutUint32(buf[idx:], crc)

	return buf, total
}

// DecodeFrame parses a complete frame buffer (header through CRC) and
// verifies the checksum. The caller guarantees len(buf) matches the
// totalLength field it read.
func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < MinFrameSize {
		return nil, ErrInvalidCRC
	}
	expect := binary.LittleEndian.Uint32(buf[len(buf)-crcSize:])
	if crc32.ChecksumIEEE(buf[:len(buf)-crcSize]) != expect {
		return nil, ErrInvalidCRC
	}

	f := &Frame{
		Tombstone: buf[4] == 1,
		TypeID:    binary.LittleEndian.Uint16(buf[5:7]),
	}
	keyLen := binary.LittleEndian.Uint32(buf[7:11])
	idx := uint32(frameHeaderSize)
	// length fields come off disk, widen before adding so they cannot wrap
	if uint64(idx)+uint64(keyLen)+4 > uint64(len(buf)) {
		return nil, ErrInvalidCRC
	}
	f.Key = buf[idx : idx+keyLen]
	idx += keyLen
	payloadLen := binary.LittleEndian.Uint32(buf[idx : idx+4])
	idx += 4
	if uint64(idx)+uint64(payloadLen)+crcSize != uint64(len(buf)) {
		return nil, ErrInvalidCRC
	}
	f.Payload = buf[idx : idx+payloadLen]
	return f, nil
}

// EncodeFramePos serializes a position for the persistent index.
func EncodeFramePos(pos *FramePos) []byte {
	buf := make([]byte, binary.MaxVarintLen64+binary.MaxVarintLen32)
	var idx = 0
	idx += binary.PutVarint(buf[idx:], pos.Offset)
	idx += binary.PutVarint(buf[idx:], int64(pos.Size))
	return buf[:idx]
}

// DecodeFramePos decodes a position produced by EncodeFramePos.
func DecodeFramePos(buf []byte) *FramePos {
	var idx = 0
	offset, n := binary.Varint(buf[idx:])
	idx += n
	size, _ := binary.Varint(buf[idx:])
	return &FramePos{Offset: offset, Size: uint32(size)}
}
