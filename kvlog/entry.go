package kvlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/klauspost/compress/zstd"
)

// Entry is a value with its MIME type, the unit of storage. Entries are
// immutable: setting a key again replaces the whole entry.
type Entry struct {
	Value []byte
	Mime  string
}

const (
	flagNone           byte = 0x00
	flagZstdCompressed byte = 0x80

	// values larger than this many bytes are compressed on disk
	compressThreshold = 1024

	// key and mime have 2-byte length prefixes, value has 4 bytes
	maxKeyLen   = 65535
	maxMimeLen  = 65535
	maxValueLen = 1<<32 - 1

	frameLenSize = 4
)

var (
	// ErrTruncatedRecord means the log ended in the middle of a record.
	ErrTruncatedRecord = errors.New("truncated record")
	// ErrInvalidData means a record decoded to something impossible,
	// e.g. a key that is not valid UTF-8.
	ErrInvalidData = errors.New("invalid data")

	ErrEmptyKey      = errors.New("key is empty")
	ErrKeyTooLarge   = errors.New("key exceeds 64 KiB")
	ErrMimeTooLarge  = errors.New("mime type exceeds 64 KiB")
	ErrValueTooLarge = errors.New("value exceeds 4 GiB")
)

// record is the on-disk form of one (key, Entry) pair.
type record struct {
	key   string
	value []byte
	mime  string
}

// encodeBody serializes the length-prefixed fields of a record, without
// the flags byte. This is also the content of a compressed frame.
func encodeBody(rec *record) []byte {
	n := 2 + len(rec.key) + 4 + len(rec.value) + 2 + len(rec.mime)
	buf := make([]byte, 0, n)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.key)))
	buf = append(buf, rec.key...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.value)))
	buf = append(buf, rec.value...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.mime)))
	buf = append(buf, rec.mime...)
	return buf
}

// writeRecord appends rec in the raw encoding.
func writeRecord(w io.Writer, rec *record) error {
	if _, err := w.Write([]byte{flagNone}); err != nil {
		return err
	}
	_, err := w.Write(encodeBody(rec))
	return err
}

// writeRecordCompressed appends rec with the body as a zstd frame.
//
// The frame length is not known until compression finishes, so a 4-byte
// placeholder is written first and patched afterwards. The stream is left
// positioned after the frame, ready for the next append.
func writeRecordCompressed(s Stream, rec *record) error {
	if _, err := s.Write([]byte{flagZstdCompressed}); err != nil {
		return err
	}
	patchPos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := s.Write(make([]byte, frameLenSize)); err != nil {
		return err
	}
	start := patchPos + frameLenSize

	enc, err := zstd.NewWriter(s, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write(encodeBody(rec)); err != nil {
		enc.Close()
		return err
	}
	// Close flushes and writes the frame trailer
	if err := enc.Close(); err != nil {
		return err
	}

	end, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := s.Seek(patchPos, io.SeekStart); err != nil {
		return err
	}
	var lenBuf [frameLenSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(end-start))
	if _, err := s.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = s.Seek(end, io.SeekStart)
	return err
}

// readFull is io.ReadFull with end-of-stream mapped to ErrTruncatedRecord.
// It must only be used past the flags byte: running out of data inside a
// record is corruption, not a clean end of the log.
func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedRecord
	}
	return err
}

// readRecord reads one record from the current stream position.
// Returns io.EOF only if the stream ends at a record boundary, i.e.
// before the flags byte.
func readRecord(r io.Reader) (*record, error) {
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		// io.EOF here is the clean "no more records" signal
		return nil, err
	}
	if flags[0]&^flagZstdCompressed != 0 {
		return nil, fmt.Errorf("%w: reserved flag bits set: 0x%02x", ErrInvalidData, flags[0])
	}
	if flags[0]&flagZstdCompressed == 0 {
		return readBody(r)
	}

	var lenBuf [frameLenSize]byte
	if err := readFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	frame := make([]byte, frameLen)
	if err := readFull(r, frame); err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: bad zstd frame: %v", ErrInvalidData, err)
	}
	return readBody(bytes.NewReader(body))
}

func readBody(r io.Reader) (*record, error) {
	var l2 [2]byte
	var l4 [4]byte

	if err := readFull(r, l2[:]); err != nil {
		return nil, err
	}
	key := make([]byte, binary.LittleEndian.Uint16(l2[:]))
	if err := readFull(r, key); err != nil {
		return nil, err
	}

	if err := readFull(r, l4[:]); err != nil {
		return nil, err
	}
	value := make([]byte, binary.LittleEndian.Uint32(l4[:]))
	if err := readFull(r, value); err != nil {
		return nil, err
	}

	if err := readFull(r, l2[:]); err != nil {
		return nil, err
	}
	mime := make([]byte, binary.LittleEndian.Uint16(l2[:]))
	if err := readFull(r, mime); err != nil {
		return nil, err
	}

	if !utf8.Valid(key) {
		return nil, fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidData)
	}
	if !utf8.Valid(mime) {
		return nil, fmt.Errorf("%w: mime is not valid UTF-8", ErrInvalidData)
	}
	return &record{
		key:   string(key),
		value: value,
		mime:  string(mime),
	}, nil
}
