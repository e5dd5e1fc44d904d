package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// Archive stores JSON documents under slash-separated keys in one bucket.
type Archive interface {
	PutJSON(ctx context.Context, key string, v any) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type archive struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	prefix string
}

// NewArchiveFromEnv reads ARTIFACT_ARCHIVE_BUCKET (required) and
// ARTIFACT_ARCHIVE_PREFIX plus the object storage mode variables.
func NewArchiveFromEnv(log *logger.Logger) (Archive, error) {
	bucket := strings.TrimSpace(os.Getenv("ARTIFACT_ARCHIVE_BUCKET"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env var ARTIFACT_ARCHIVE_BUCKET")
	}
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewArchive(log, storageCfg, bucket, os.Getenv("ARTIFACT_ARCHIVE_PREFIX"))
}

func NewArchive(log *logger.Logger, storageCfg ObjectStorageConfig, bucket, prefix string) (Archive, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	client, err := newStorageClient(context.Background(), storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	a := &archive{
		log:    log.With("service", "ArtifactArchive"),
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}
	a.log.Info(
		"Artifact archive initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"bucket", bucket,
		"prefix", a.prefix,
	)
	return a, nil
}

func newStorageClient(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(storageCfg.EmulatorHost, "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

// ObjectKey joins prefix and key parts, dropping empty segments.
func ObjectKey(prefix string, parts ...string) string {
	segs := make([]string, 0, len(parts)+1)
	if p := strings.Trim(prefix, "/"); p != "" {
		segs = append(segs, p)
	}
	for _, part := range parts {
		if p := strings.Trim(strings.TrimSpace(part), "/"); p != "" {
			segs = append(segs, p)
		}
	}
	return path.Join(segs...)
}

func (a *archive) object(key string) *storage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(ObjectKey(a.prefix, key))
}

func (a *archive) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := a.object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return pkgerrors.Transient("archive.put", fmt.Errorf("failed to write data to GCS: %w", err))
	}
	if err := w.Close(); err != nil {
		return pkgerrors.Transient("archive.put", fmt.Errorf("failed to close GCS writer: %w", err))
	}
	return nil
}

type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (a *archive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	// The timeout lives as long as the reader; cancel runs on Close.
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := a.object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("archive object %s: %w", key, pkgerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (a *archive) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	full := ObjectKey(a.prefix, prefix)
	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: full})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if a.prefix != "" {
			name = strings.TrimPrefix(name, a.prefix+"/")
		}
		out = append(out, name)
	}
	return out, nil
}

func (a *archive) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, a.bucket, err)
	}
	return nil
}

func (a *archive) Close() error { return a.client.Close() }
