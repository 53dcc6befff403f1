package kvlog

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

var slogger = zap.NewNop().Sugar()

// SetLogger routes the package's debug tracing to l. Errors are never
// logged here, only returned; pass nil to silence tracing again.
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	slogger = l
}

// Store is a key-value store over a single append-only log.
type Store struct {
	stream  Stream
	entries map[string]*Entry
	mu      sync.Mutex
}

// Open replays the log in stream and returns a store positioned at the
// end of it, ready to append.
//
// A log that ends in the middle of a record fails with
// ErrTruncatedRecord: a partially written trailing record is reported,
// not silently dropped.
func Open(stream Stream) (*Store, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	entries := make(map[string]*Entry)
	for {
		rec, err := readRecord(stream)
		if err == io.EOF {
			// end of log at a record boundary
			break
		}
		if err != nil {
			return nil, err
		}
		entries[rec.key] = &Entry{Value: rec.value, Mime: rec.mime}
	}
	slogger.Debugf("replayed log: %d keys", len(entries))
	return &Store{
		stream:  stream,
		entries: entries,
	}, nil
}

// Get returns the current entry for key. The returned entry is shared
// with the store and must not be modified.
func (s *Store) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// Set appends a record for (key, e) to the log and updates the index.
// Values larger than 1 KiB are compressed.
//
// On a write error the index is left unchanged and the error is
// returned; the stream may contain a partial trailing record, which a
// later Open will report as corruption.
func (s *Store) Set(key string, e *Entry) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLen {
		return ErrKeyTooLarge
	}
	if len(e.Mime) > maxMimeLen {
		return ErrMimeTooLarge
	}
	if uint64(len(e.Value)) > maxValueLen {
		return ErrValueTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &record{key: key, value: e.Value, mime: e.Mime}
	var err error
	if len(e.Value) > compressThreshold {
		slogger.Debugf("set %q: %d bytes %s, compressed", key, len(e.Value), e.Mime)
		err = writeRecordCompressed(s.stream, rec)
	} else {
		slogger.Debugf("set %q: %d bytes %s", key, len(e.Value), e.Mime)
		err = writeRecord(s.stream, rec)
	}
	if err != nil {
		return err
	}
	s.entries[key] = e
	return nil
}

// EndOffset returns the byte offset just past the last fully written
// record. Because it is taken under the store's lock it is a safe cut
// point for copying the log while the store keeps appending: a single
// Set issues several stream writes, so the file may hold a partial
// record at any other moment.
func (s *Store) EndOffset() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// the stream always sits at the end of the last record
	return s.stream.Seek(0, io.SeekCurrent)
}

// Len returns the number of distinct keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
