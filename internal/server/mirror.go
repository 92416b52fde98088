package server

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"app-catalog-drop/internal/logging"
)

// PayloadMirror receives a copy of every committed save.
type PayloadMirror interface {
	Put(ctx context.Context, f StoredFile, content string) error
	Ping(ctx context.Context) error
}

// MirrorOptions configures the MinIO/S3 mirror.
type MirrorOptions struct {
	Endpoint  string // "minio:9000" or "https://s3.example.com"
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// MinioMirror uploads saved payloads to a bucket.
type MinioMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// NewMinioMirror connects to the endpoint and checks the bucket exists.
func NewMinioMirror(ctx context.Context, opts MirrorOptions) (*MinioMirror, error) {
	if opts.Endpoint == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("mirror configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	m := &MinioMirror{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}
	if err := m.Ping(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// objectKey places name under the configured prefix.
func (m *MinioMirror) objectKey(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Put uploads content as <prefix>/<name>, replacing any previous object.
func (m *MinioMirror) Put(ctx context.Context, f StoredFile, content string) error {
	_, err := m.client.PutObject(
		ctx,
		m.bucket,
		m.objectKey(f.Name),
		strings.NewReader(content),
		int64(len(content)),
		minio.PutObjectOptions{
			ContentType:  contentTypeFor(f.Name),
			UserMetadata: map[string]string{"sha256": f.SHA256},
		},
	)
	return err
}

// Ping checks the bucket is reachable.
func (m *MinioMirror) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("mirror bucket does not exist: %s", m.bucket)
	}
	return nil
}

// contentTypeFor picks a MIME type from the file extension.
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}

// mirrorSaved copies a committed save to the mirror. The local file is the
// source of truth: failures are logged and counted only.
func (s *Server) mirrorSaved(r *http.Request, f StoredFile, content string) {
	if s.mirror == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
	defer cancel()

	err := s.mirrorBreaker.Execute(func() error {
		return s.mirror.Put(ctx, f, content)
	})
	s.metrics.RecordSideEffect("mirror", err)
	if err != nil {
		logging.Warn("mirror_put_failed", map[string]any{
			"rid":      RequestIDFromContext(r.Context()),
			"filename": f.Name,
			"error":    err.Error(),
		})
	}
}
