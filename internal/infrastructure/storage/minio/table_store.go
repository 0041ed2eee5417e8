package minio

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
)

// Scheme prefixes object locations handled by TableStore.
const Scheme = "s3://"

// TableContentType is set on uploaded tables.
const TableContentType = "text/tab-separated-values"

// ParseLocation splits "s3://bucket/key" into bucket and key.  ok is false
// for locations without the scheme.
func ParseLocation(location string) (bucket, key string, ok bool, err error) {
	if !strings.HasPrefix(location, Scheme) {
		return "", "", false, nil
	}
	rest := strings.TrimPrefix(location, Scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", true, errors.InvalidParam("object location must be s3://bucket/key").WithDetail(location)
	}
	return bucket, key, true, nil
}

// IsObjectLocation reports whether location names an object.
func IsObjectLocation(location string) bool {
	return strings.HasPrefix(location, Scheme)
}

// TableStore reads and writes table objects addressed by s3:// locations.
type TableStore struct {
	client  *MinIOClient
	logger  logging.Logger
	metrics *prometheus.EngineMetrics
}

// NewTableStore creates a store over client.
func NewTableStore(client *MinIOClient, log logging.Logger, metrics *prometheus.EngineMetrics) *TableStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNoopEngineMetrics()
	}
	return &TableStore{client: client, logger: log, metrics: metrics}
}

func (s *TableStore) resolve(location string) (string, string, error) {
	bucket, key, ok, err := ParseLocation(location)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return s.client.DefaultBucket(), strings.TrimPrefix(location, "/"), nil
	}
	return bucket, key, nil
}

func (s *TableStore) observe(op string, start time.Time) {
	s.metrics.StorageOpDuration.WithLabelValues("minio", op).Observe(time.Since(start).Seconds())
}

// Open returns a reader over the object at location.  The caller closes it.
func (s *TableStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	defer s.observe("get", time.Now())
	bucket, key, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	api, err := s.client.API()
	if err != nil {
		return nil, err
	}
	rc, err := api.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, mapError(err, "failed to get object", location)
	}
	return rc, nil
}

// Put uploads size bytes from r to location.  size -1 streams with
// multipart upload.
func (s *TableStore) Put(ctx context.Context, location string, r io.Reader, size int64) error {
	defer s.observe("put", time.Now())
	bucket, key, err := s.resolve(location)
	if err != nil {
		return err
	}
	api, err := s.client.API()
	if err != nil {
		return err
	}
	info, err := api.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: TableContentType})
	if err != nil {
		return mapError(err, "failed to put object", location)
	}
	s.logger.Debug("table uploaded",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("size", info.Size))
	return nil
}

// Exists reports whether an object is stored at location.
func (s *TableStore) Exists(ctx context.Context, location string) (bool, error) {
	defer s.observe("stat", time.Now())
	bucket, key, err := s.resolve(location)
	if err != nil {
		return false, err
	}
	api, err := s.client.API()
	if err != nil {
		return false, err
	}
	if _, err := api.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapError(err, "failed to stat object", location)
	}
	return true, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}

func mapError(err error, msg, location string) error {
	if isNotFound(err) {
		return errors.Wrap(err, errors.ErrCodeObjectNotFound, "object not found").WithDetail(location)
	}
	return errors.Wrap(err, errors.ErrCodeStorageFailed, msg).WithDetail(location)
}
