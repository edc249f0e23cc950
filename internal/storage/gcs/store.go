// Package gcs persists the ranking collection as an object in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Object metadata keys carrying the run that produced the collection.
const (
	metaRunID     = "run_id"
	metaMechanism = "mechanism"
	metaCrawledAt = "crawled_at"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Object string
}

// objectAPI is the slice of the GCS client the store needs.
type objectAPI interface {
	write(ctx context.Context, bucket, object string, meta map[string]string, data []byte) error
	read(ctx context.Context, bucket, object string) ([]byte, map[string]string, error)
}

// Store writes the ranking collection to a configured GCS object. The object
// body is the same JSON array the file store writes.
type Store struct {
	api    objectAPI
	bucket string
	object string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newStore(clientAPI{client: client}, cfg)
}

func newStore(api objectAPI, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	object := strings.TrimSpace(cfg.Object)
	if object == "" {
		object = "books_data.json"
	}
	return &Store{api: api, bucket: cfg.Bucket, object: object}, nil
}

// URI returns the gs:// location of the collection.
func (s *Store) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

// Save implements ranking.Store.
func (s *Store) Save(ctx context.Context, snap ranking.Snapshot) error {
	data, err := ranking.MarshalBooks(snap.Books)
	if err != nil {
		return err
	}
	meta := map[string]string{
		metaRunID:     snap.RunID,
		metaMechanism: snap.Mechanism,
		metaCrawledAt: snap.CrawledAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.api.write(ctx, s.bucket, s.object, meta, data); err != nil {
		return fmt.Errorf("write %s: %w", s.URI(), err)
	}
	return nil
}

// Latest implements ranking.Store.
func (s *Store) Latest(ctx context.Context) (ranking.Snapshot, error) {
	data, meta, err := s.api.read(ctx, s.bucket, s.object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ranking.Snapshot{}, ranking.ErrNotFound
		}
		return ranking.Snapshot{}, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	books, err := ranking.UnmarshalBooks(data)
	if err != nil {
		return ranking.Snapshot{}, fmt.Errorf("%s: %w", s.URI(), err)
	}
	snap := ranking.Snapshot{
		RunID:     meta[metaRunID],
		Mechanism: meta[metaMechanism],
		Books:     books,
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta[metaCrawledAt]); err == nil {
		snap.CrawledAt = ts
	}
	return snap, nil
}

type clientAPI struct {
	client *storage.Client
}

func (c clientAPI) write(ctx context.Context, bucket, object string, meta map[string]string, data []byte) error {
	writer := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json; charset=utf-8"
	writer.Metadata = meta
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (c clientAPI) read(ctx context.Context, bucket, object string) ([]byte, map[string]string, error) {
	handle := c.client.Bucket(bucket).Object(object)
	attrs, err := handle.Attrs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("object attrs: %w", err)
	}
	reader, err := handle.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("read object: %w", err)
	}
	return data, attrs.Metadata, nil
}
