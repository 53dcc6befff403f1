// Package backup ships the store's log file to S3-compatible object
// storage and restores it from there.
//
// The log is zstd-compressed before upload; append-only logs full of
// text and repeated keys compress very well.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/keva-kv/keva/u"
)

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
}

type Client struct {
	Client *minio.Client
	Bucket string
}

func New(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("must provide config")
	}
	c := config
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("must provide all fields in config")
	}

	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: true,
	})
	if err != nil {
		return nil, err
	}
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}

	return &Client{
		Client: mc,
		Bucket: c.Bucket,
	}, nil
}

func (c *Client) URLBase() string {
	url := c.Client.EndpointURL()
	return fmt.Sprintf("https://%s.%s/", c.Bucket, url.Host)
}

func (c *Client) URLForPath(remotePath string) string {
	return c.URLBase() + strings.TrimPrefix(remotePath, "/")
}

func (c *Client) Exists(ctx context.Context, remotePath string) bool {
	_, err := c.Client.StatObject(ctx, c.Bucket, remotePath, minio.StatObjectOptions{})
	return err == nil
}

// UploadLog compresses the first upTo bytes of the log file at logPath
// and uploads them as remotePath.
//
// A single set issues several stream writes (and, for compressed
// records, an in-place patch of the frame length), so an arbitrary
// file-size cut can capture a partial or half-patched record. upTo must
// therefore be a record boundary observed under the store's lock, i.e.
// Store.EndOffset; the store may keep appending past it while this runs.
func (c *Client) UploadLog(ctx context.Context, remotePath string, logPath string, upTo int64) (minio.UploadInfo, error) {
	if !u.FileExists(logPath) {
		return minio.UploadInfo{}, fmt.Errorf("log file '%s' doesn't exist", logPath)
	}
	compressedPath := logPath + ".zstd.tmp"
	err := u.ZstdCompressFilePart(compressedPath, logPath, upTo)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	defer os.Remove(compressedPath)

	opts := minio.PutObjectOptions{
		ContentType: "application/zstd",
	}
	return c.Client.FPutObject(ctx, c.Bucket, remotePath, compressedPath, opts)
}

// RestoreLog downloads remotePath, decompresses it and writes it to
// dstPath. The file appears atomically: a partially downloaded log
// would fail to open as a store, so it is never left in place.
func (c *Client) RestoreLog(ctx context.Context, dstPath string, remotePath string) error {
	obj, err := c.Client.GetObject(ctx, c.Bucket, remotePath, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer obj.Close()

	compressed, err := io.ReadAll(obj)
	if err != nil {
		return err
	}
	d, err := u.ZstdDecompressData(compressed)
	if err != nil {
		return err
	}

	if err = os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	tmpPath := dstPath + ".tmp"
	if err = os.WriteFile(tmpPath, d, 0644); err != nil {
		return err
	}
	err = os.Rename(tmpPath, dstPath)
	if err != nil {
		os.Remove(tmpPath)
	}
	return err
}

func (c *Client) Remove(ctx context.Context, remotePath string) error {
	return c.Client.RemoveObject(ctx, c.Bucket, remotePath, minio.RemoveObjectOptions{})
}
