package snapshot

import "encoding/binary"

// FileHeaderSize is the size in bytes of a serialized FileHeader.
const FileHeaderSize = 48

// FileHeader is the fixed-size header at offset 0 of every snapshot file.
type FileHeader struct {
	LogID        [16]byte
	StartFrameNo uint64
	EndFrameNo   uint64
	FrameCount   uint64
	SizeAfter    uint32
	_pad         uint32
}

func (h FileHeader) serialize() []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:16], h.LogID[:])
	binary.LittleEndian.PutUint64(buf[16:24], h.StartFrameNo)
	binary.LittleEndian.PutUint64(buf[24:32], h.EndFrameNo)
	binary.LittleEndian.PutUint64(buf[32:40], h.FrameCount)
	binary.LittleEndian.PutUint32(buf[40:44], h.SizeAfter)
	return buf
}

// ReadHeader parses a FileHeader from its serialized bytes.
func ReadHeader(data []byte) (FileHeader, error) {
	if len(data) < FileHeaderSize {
		return FileHeader{}, ErrShortHeader
	}
	var h FileHeader
	copy(h.LogID[:], data[0:16])
	h.StartFrameNo = binary.LittleEndian.Uint64(data[16:24])
	h.EndFrameNo = binary.LittleEndian.Uint64(data[24:32])
	h.FrameCount = binary.LittleEndian.Uint64(data[32:40])
	h.SizeAfter = binary.LittleEndian.Uint32(data[40:44])
	return h, nil
}
