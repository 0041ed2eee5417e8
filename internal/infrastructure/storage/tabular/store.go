package tabular

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtacn/subsim/internal/infrastructure/storage/minio"
	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// ObjectStore is implemented by minio.TableStore.
type ObjectStore interface {
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Put(ctx context.Context, location string, r io.Reader, size int64) error
	Exists(ctx context.Context, location string) (bool, error)
}

// Store resolves table locations: s3:// locations go to object storage,
// everything else is a local path.
type Store struct {
	objects ObjectStore
}

// NewStore creates a Store.  objects may be nil when object storage is not
// configured; s3:// locations then fail.
func NewStore(objects ObjectStore) *Store {
	return &Store{objects: objects}
}

func (s *Store) objectStore(location string) (ObjectStore, error) {
	if s.objects == nil {
		return nil, errors.New(errors.ErrCodeStorageFailed, "object storage is not configured").WithDetail(location)
	}
	return s.objects, nil
}

// ReadRecords loads the table at location.
func (s *Store) ReadRecords(ctx context.Context, location string) ([]mtypes.Record, error) {
	var rc io.ReadCloser
	if minio.IsObjectLocation(location) {
		objects, err := s.objectStore(location)
		if err != nil {
			return nil, err
		}
		if rc, err = objects.Open(ctx, location); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(location)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(err, errors.ErrCodeObjectNotFound, "table not found").WithDetail(location)
			}
			return nil, errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to open table").WithDetail(location)
		}
		rc = f
	}
	defer rc.Close()

	records, err := ReadRecords(rc)
	if err != nil {
		return nil, errors.Wrap(err, errors.GetCode(err), "failed to decode table").WithDetail(location)
	}
	return records, nil
}

// WriteAnnotated stores records at location, resolved by OutputLocation.
// Local files are written to a temporary sibling and renamed into place.
func (s *Store) WriteAnnotated(ctx context.Context, location string, records []mtypes.AnnotatedRecord) error {
	location = OutputLocation(location)
	var buf bytes.Buffer
	if err := WriteAnnotated(&buf, records); err != nil {
		return err
	}

	if minio.IsObjectLocation(location) {
		objects, err := s.objectStore(location)
		if err != nil {
			return err
		}
		return objects.Put(ctx, location, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	}

	dir := filepath.Dir(location)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to create output directory").WithDetail(dir)
	}
	tmp, err := os.CreateTemp(dir, ".subsim-*.tsv")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to create output file").WithDetail(location)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to write output file").WithDetail(location)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to write output file").WithDetail(location)
	}
	if err := os.Rename(tmp.Name(), location); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to move output file").WithDetail(location)
	}
	return nil
}

// Exists reports whether a table is stored at location.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	location = OutputLocation(location)
	if minio.IsObjectLocation(location) {
		objects, err := s.objectStore(location)
		if err != nil {
			return false, err
		}
		return objects.Exists(ctx, location)
	}
	_, err := os.Stat(location)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to stat table").WithDetail(location)
}

// OutputLocation returns output, or DefaultOutputName inside it when output
// names a directory (trailing slash, or an existing local directory).
func OutputLocation(output string) string {
	if output == "" {
		return DefaultOutputName
	}
	if strings.HasSuffix(output, "/") {
		return output + DefaultOutputName
	}
	if !minio.IsObjectLocation(output) {
		if fi, err := os.Stat(output); err == nil && fi.IsDir() {
			return filepath.Join(output, DefaultOutputName)
		}
	}
	return output
}
