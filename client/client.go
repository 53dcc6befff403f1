// Package client is a Go client for the keva HTTP API.
package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/carlmjohnson/requests"

	"github.com/keva-kv/keva/kvlog"
)

// ErrNotFound is returned by Get for a key the server doesn't have.
var ErrNotFound = errors.New("key not found")

type Client struct {
	// BaseURL is the server address, e.g. "http://127.0.0.1:8080"
	BaseURL string
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// Get fetches the entry stored under key. The entry's Mime is taken
// from the response Content-Type.
func (c *Client) Get(ctx context.Context, key string) (*kvlog.Entry, error) {
	var buf bytes.Buffer
	hdr := make(http.Header)
	err := requests.
		URL(c.BaseURL).
		Path("/" + url.PathEscape(key)).
		CopyHeaders(hdr).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		if requests.HasStatusErr(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &kvlog.Entry{
		Value: buf.Bytes(),
		Mime:  hdr.Get("Content-Type"),
	}, nil
}

// Set stores e under key.
func (c *Client) Set(ctx context.Context, key string, e *kvlog.Entry) error {
	return requests.
		URL(c.BaseURL).
		Path("/"+url.PathEscape(key)).
		BodyBytes(e.Value).
		ContentType(e.Mime).
		Fetch(ctx)
}
