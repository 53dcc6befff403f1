// Command keva serves a persistent key-value store over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/keva-kv/keva/backup"
	"github.com/keva-kv/keva/kvlog"
	"github.com/keva-kv/keva/server"
)

var (
	flgAddr    = flag.String("addr", "127.0.0.1:8080", "address to listen on")
	flgDB      = flag.String("db", "./keva.db", "path of the log file")
	flgVerbose = flag.Bool("verbose", false, "enable debug tracing")
)

// backups are optional, enabled by providing S3 credentials in the
// environment
func startBackups(ctx context.Context, slogger *zap.SugaredLogger, store *kvlog.Store, dbPath string) {
	cfg := &backup.Config{
		Access:   os.Getenv("KEVA_BACKUP_ACCESS"),
		Secret:   os.Getenv("KEVA_BACKUP_SECRET"),
		Bucket:   os.Getenv("KEVA_BACKUP_BUCKET"),
		Endpoint: os.Getenv("KEVA_BACKUP_ENDPOINT"),
		Region:   os.Getenv("KEVA_BACKUP_REGION"),
	}
	if cfg.Access == "" || cfg.Secret == "" || cfg.Bucket == "" || cfg.Endpoint == "" {
		return
	}
	c, err := backup.New(ctx, cfg)
	if err != nil {
		slogger.Errorf("backups disabled: %v", err)
		return
	}
	remotePath := "backups/" + filepath.Base(dbPath) + ".zstd"
	slogger.Infof("hourly backups to %s", c.URLForPath(remotePath))
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Hour):
			}
			// cut the snapshot at a record boundary, the file may
			// hold a partial record mid-append
			off, err := store.EndOffset()
			if err != nil {
				slogger.Errorf("backup skipped: %v", err)
				continue
			}
			if _, err := c.UploadLog(ctx, remotePath, dbPath, off); err != nil {
				slogger.Errorf("backup upload failed: %v", err)
				continue
			}
			slogger.Infof("backed up log to %s", c.URLForPath(remotePath))
		}
	}()
}

func main() {
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *flgVerbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	slogger := logger.Sugar()
	if *flgVerbose {
		kvlog.SetLogger(slogger)
	}

	// no O_APPEND: the store patches compressed frame lengths in place,
	// which O_APPEND would redirect to the end of the file
	f, err := os.OpenFile(*flgDB, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		slogger.Fatalf("opening %s: %v", *flgDB, err)
	}
	defer f.Close()

	store, err := kvlog.Open(f)
	if err != nil {
		slogger.Fatalf("replaying %s: %v", *flgDB, err)
	}
	slogger.Infof("opened %s: %d keys", *flgDB, store.Len())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startBackups(ctx, slogger, store, *flgDB)

	srv := server.New(*flgAddr, store, slogger)
	if err := srv.Run(ctx); err != nil {
		slogger.Fatalf("server: %v", err)
	}
}
