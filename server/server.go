// Package server exposes a kvlog.Store over HTTP.
//
// GET /{key} returns the stored value with its MIME type as
// Content-Type; a request whose Accept header doesn't match the stored
// MIME gets 406. POST /{key} stores the request body under the key with
// the request's Content-Type.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/keva-kv/keva/kvlog"
)

// responses smaller than this are not worth compressing
const minSizeToCompress = 1024

type Server struct {
	Addr   string
	Store  *kvlog.Store
	Logger *zap.SugaredLogger
}

func New(addr string, store *kvlog.Store, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		Addr:   addr,
		Store:  store,
		Logger: logger,
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	e, ok := s.Store.Get(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if accept := r.Header.Get("Accept"); accept != "" {
		if !acceptMatches(accept, e.Mime) {
			http.Error(w, "Mismatched MIME type", http.StatusNotAcceptable)
			return
		}
	}
	w.Header().Set("Content-Type", e.Mime)

	canBr := strings.Contains(r.Header.Get("Accept-Encoding"), "br")
	if canBr && len(e.Value) >= minSizeToCompress {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
		_, err := bw.Write(e.Value)
		err2 := bw.Close()
		if err != nil || err2 != nil {
			s.Logger.Errorf("writing brotli response for %q: %v, %v", key, err, err2)
		}
		return
	}
	if _, err := w.Write(e.Value); err != nil {
		s.Logger.Errorf("writing response for %q: %v", key, err)
	}
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}
	e := &kvlog.Entry{
		Value: value,
		Mime:  r.Header.Get("Content-Type"),
	}
	err = s.Store.Set(key, e)
	switch {
	case err == nil:
		// matches what clients of the original service expect
		io.WriteString(w, "OK")
	case errors.Is(err, kvlog.ErrEmptyKey),
		errors.Is(err, kvlog.ErrKeyTooLarge),
		errors.Is(err, kvlog.ErrMimeTooLarge),
		errors.Is(err, kvlog.ErrValueTooLarge):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.Logger.Errorf("set %q: %v", key, err)
		http.Error(w, "Error setting value", http.StatusInternalServerError)
	}
}

// Handler returns the routing handler, usable directly in tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{key}", s.handleGet)
	mux.HandleFunc("POST /{key}", s.handleSet)
	return mux
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         s.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	chServerErr := make(chan error, 1)
	go func() {
		s.Logger.Infof("listening on %s", s.Addr)
		err := httpSrv.ListenAndServe()
		// mute error caused by Shutdown()
		if err == http.ErrServerClosed {
			err = nil
		}
		chServerErr <- err
	}()

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt /* SIGINT */, syscall.SIGTERM)
	select {
	case err := <-chServerErr:
		return err
	case <-c:
	case <-ctx.Done():
	}

	s.Logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-chServerErr
}
