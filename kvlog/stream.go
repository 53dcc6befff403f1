package kvlog

import "io"

// Stream is what the store needs from its backing storage: sequential
// reads and writes plus seeking. *os.File satisfies it.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
}

// Discard is a Stream that ignores writes and has nothing to read.
// A store opened over it keeps entries in memory only and loses them
// when the process exits. Useful for ephemeral stores and tests.
type Discard struct {
	pos  int64
	size int64
}

func (d *Discard) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (d *Discard) Write(p []byte) (int, error) {
	d.pos += int64(len(p))
	if d.pos > d.size {
		d.size = d.pos
	}
	return len(p), nil
}

// Seek tracks the position so that the frame-length patch sequence
// behaves the same way it does on a file. The end of the stream is the
// high-water mark of everything written, even though no bytes are kept.
func (d *Discard) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		d.pos = offset
	case io.SeekCurrent:
		d.pos += offset
	case io.SeekEnd:
		d.pos = d.size + offset
	}
	return d.pos, nil
}
