package minio

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/testutil"
	"github.com/turtacn/subsim/pkg/errors"
)

// mockObjectAPI implements ObjectAPI
type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	args := m.Called(ctx)
	buckets, _ := args.Get(0).([]minio.BucketInfo)
	return buckets, args.Error(1)
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, _ := io.ReadAll(reader)
	args := m.Called(ctx, bucketName, objectName, string(data), objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectAPI) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucketName, objectName)
	if s, ok := args.Get(0).(string); ok {
		return io.NopCloser(bytes.NewBufferString(s)), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockObjectAPI) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

type ClientTestSuite struct {
	suite.Suite
	api    *mockObjectAPI
	client *MinIOClient
}

func (s *ClientTestSuite) SetupTest() {
	s.api = new(mockObjectAPI)
	s.client = NewMinIOClientWithAPI(s.api, config.MinIOConfig{Bucket: "tables"}, testutil.NewMockLogger())
}

func (s *ClientTestSuite) TestApplyDefaults() {
	cfg := config.MinIOConfig{}
	applyDefaults(&cfg)
	s.Equal("us-east-1", cfg.Region)
	s.Equal(config.DefaultMinIOBucket, cfg.Bucket)
}

func (s *ClientTestSuite) TestEnsureBucket_Creates() {
	s.api.On("BucketExists", mock.Anything, "tables").Return(false, nil)
	s.api.On("MakeBucket", mock.Anything, "tables", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)

	s.NoError(s.client.EnsureBucket(context.Background(), "tables"))
	s.api.AssertExpectations(s.T())
}

func (s *ClientTestSuite) TestEnsureBucket_Exists() {
	s.api.On("BucketExists", mock.Anything, "tables").Return(true, nil)

	s.NoError(s.client.EnsureBucket(context.Background(), "tables"))
	s.api.AssertNotCalled(s.T(), "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ClientTestSuite) TestEnsureBucket_Error() {
	s.api.On("BucketExists", mock.Anything, "tables").Return(false, io.ErrUnexpectedEOF)

	err := s.client.EnsureBucket(context.Background(), "tables")
	s.True(errors.IsCode(err, errors.ErrCodeStorageFailed))
}

func (s *ClientTestSuite) TestHealthCheck() {
	s.api.On("ListBuckets", mock.Anything).Return([]minio.BucketInfo{{Name: "tables"}}, nil)
	s.api.On("BucketExists", mock.Anything, "tables").Return(true, nil).Once()
	s.NoError(s.client.HealthCheck(context.Background()))

	s.api.On("BucketExists", mock.Anything, "tables").Return(false, nil).Once()
	s.True(errors.IsCode(s.client.HealthCheck(context.Background()), errors.ErrCodeStorageFailed))
}

func (s *ClientTestSuite) TestClosed() {
	s.NoError(s.client.Close())
	_, err := s.client.API()
	s.ErrorIs(err, ErrMinIOClientClosed)
	s.ErrorIs(s.client.HealthCheck(context.Background()), ErrMinIOClientClosed)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
