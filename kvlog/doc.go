// Package kvlog implements a persistent key-value store backed by a
// single append-only binary log.
//
// Every mutation is appended as one self-delimiting record. The current
// state is kept in an in-memory index which is rebuilt by replaying the
// log when the store is opened; for duplicate keys the later record wins.
//
// # Record format
//
// A record is a flags byte followed by the body:
//
//	flags      1 byte   bit 7 set => body is a zstd frame
//	key_len    2 bytes  little-endian
//	key        key_len bytes, UTF-8
//	value_len  4 bytes  little-endian
//	value      value_len bytes
//	mime_len   2 bytes  little-endian
//	mime       mime_len bytes, UTF-8
//
// When the value is larger than 1 KB the body is compressed: a 4-byte
// little-endian frame length is written after the flags byte, followed by
// a zstd frame whose decompressed content is the body above.
//
// # Basic usage
//
//	f, err := os.OpenFile("keva.db", os.O_RDWR|os.O_CREATE, 0644)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store, err := kvlog.Open(f)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = store.Set("greeting", &kvlog.Entry{
//	    Value: []byte("hello"),
//	    Mime:  "text/plain",
//	})
//
//	e, ok := store.Get("greeting")
//
// # Thread safety
//
// A Store is safe for concurrent use. Get and Set are serialized by a
// mutex; the in-place patch of the compressed frame length makes
// concurrent appends to the same stream unsafe without it.
package kvlog
