package assets

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// bucketETags maps cleaned request path -> Entry JSON.
var bucketETags = []byte("etags")

// Entry records the cached validators for one document-root file. An entry
// is only trusted while the file's size and mtime still match.
type Entry struct {
	ETag    string `json:"etag"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time_ns"`
}

// Index is a bbolt-backed cache of content ETags keyed by cleaned request
// path. It survives restarts so a warm gateway never rehashes an unchanged
// GUI bundle.
type Index struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenIndex opens (or creates) the index at the given path.
func OpenIndex(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening etag index: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketETags)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating etag bucket: %w", err)
	}
	logger.Debug("opened etag index", "path", path)
	return &Index{db: db, logger: logger}, nil
}

// Close closes the index and releases the database file.
func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	ix.logger.Debug("closing etag index")
	return ix.db.Close()
}

// Get returns the entry for the path and whether one exists.
func (ix *Index) Get(path string) (Entry, bool) {
	var e Entry
	found := false
	err := ix.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketETags).Get([]byte(path))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decoding entry for %s: %w", path, err)
		}
		found = true
		return nil
	})
	if err != nil {
		ix.logger.Warn("etag index read failed", "path", path, "error", err)
		return Entry{}, false
	}
	return e, found
}

// Put stores the entry for the path.
func (ix *Index) Put(path string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry for %s: %w", path, err)
	}
	return ix.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketETags).Put([]byte(path), data)
	})
}
