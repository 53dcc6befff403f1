package u

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func zstdNewWriter(dst io.Writer) (*zstd.Encoder, error) {
	// in my tests:
	// - zstd.SpeedBestCompression is much slower and not much better
	// - default concurrency is GONUMPROCS() but adding concurrency of any value
	//   doesn't consistently speed things up
	return zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
}

func ZstdCompressData(d []byte) ([]byte, error) {
	var dst bytes.Buffer
	w, err := zstdNewWriter(&dst)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(d)
	if err != nil {
		return nil, err
	}
	err = w.Close()
	if err != nil {
		return nil, err
	}
	return dst.Bytes(), nil
}

func ZstdDecompressData(d []byte) ([]byte, error) {
	r := bytes.NewReader(d)
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func ZstdCompressFile(dst string, src string) error {
	fSrc, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fSrc.Close()
	return zstdCompressReader(dst, fSrc)
}

// ZstdCompressFilePart compresses only the first n bytes of src into dst.
func ZstdCompressFilePart(dst string, src string, n int64) error {
	fSrc, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fSrc.Close()
	return zstdCompressReader(dst, io.LimitReader(fSrc, n))
}

func zstdCompressReader(dst string, r io.Reader) error {
	fDst, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw, err := zstdNewWriter(fDst)
	if err != nil {
		fDst.Close()
		os.Remove(dst)
		return err
	}
	_, err = io.Copy(zw, r)
	err2 := zw.Close()
	err3 := fDst.Close()

	err = getErr(err, err2, err3)
	if err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
