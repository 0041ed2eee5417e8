package substructure

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/domain/molecule"
	infraredis "github.com/turtacn/subsim/internal/infrastructure/database/redis"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/testutil"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// MockResultCache is a mock implementation of molecule.ResultCache
type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]string), args.Bool(1), args.Error(2)
}

func (m *MockResultCache) Set(ctx context.Context, key string, matches []string) error {
	args := m.Called(ctx, key, matches)
	return args.Error(0)
}

// MockEventPublisher is a mock implementation of molecule.RunEventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishRunCompleted(ctx context.Context, summary mtypes.RunSummary, at time.Time) error {
	args := m.Called(ctx, summary, at)
	return args.Error(0)
}

// MockGraphRepository is a mock implementation of molecule.SimilarityGraphRepository
type MockGraphRepository struct {
	mock.Mock
}

func (m *MockGraphRepository) UpsertMatches(ctx context.Context, runID common.ID, records []mtypes.AnnotatedRecord) error {
	args := m.Called(ctx, runID, records)
	return args.Error(0)
}

var testLibrary = []mtypes.Record{
	{ID: "eth", Name: "ethanol", Notation: "CCO"},
	{ID: "ws", Name: "water", Notation: "O"},
}

func newTestService(t *testing.T, opts Options, deps Dependencies) Service {
	t.Helper()
	svc, err := NewService(opts, deps)
	require.NoError(t, err)
	_, err = svc.LoadLibrary(context.Background(), testLibrary)
	require.NoError(t, err)
	return svc
}

func TestService_Run_AnnotatesRecords(t *testing.T) {
	svc := newTestService(t, Options{Workers: 2}, Dependencies{})

	records := []mtypes.Record{
		{ID: "q1", Notation: "CCC"},
		{ID: "q2", Notation: "N"},
		{ID: "q3", Notation: "C(C"},
		{ID: "q4", Notation: "CCCCCCCCCC"},
		{ID: "eth", Notation: "CCO"},
	}
	report, err := svc.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, mtypes.RunSucceeded, report.Status)
	require.Len(t, report.Records, len(records))
	for i, r := range report.Records {
		assert.Equal(t, records[i], r.Record, "records keep input order")
		assert.NotNil(t, r.Matches)
	}
	assert.Equal(t, []string{"eth"}, report.Records[0].Matches)
	assert.Empty(t, report.Records[1].Matches)
	assert.Empty(t, report.Records[2].Matches)
	assert.Empty(t, report.Records[3].Matches)
	assert.Equal(t, []string{"ws"}, report.Records[4].Matches, "a record never matches itself")

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipParseError])
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipGraphTooLarge])
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, 2, report.Skipped[0].Index)
	assert.Equal(t, "q3", report.Skipped[0].ID)
	assert.Equal(t, 3, report.Skipped[1].Index)

	assert.Equal(t, mtypes.MatchShared, report.MatchMode)
	assert.Equal(t, 2, report.LibrarySize)
	assert.Equal(t, svc.Library().Version(), report.LibraryVersion)
	assert.Equal(t, 2, report.Chunks)
}

func TestService_Run_IndependentOfWorkerCount(t *testing.T) {
	records := []mtypes.Record{
		{ID: "a", Notation: "CC"},
		{ID: "b", Notation: "OCCO"},
		{ID: "c", Notation: "C=O"},
		{ID: "d", Notation: "N#N"},
		{ID: "e", Notation: "CO"},
		{ID: "f", Notation: "[Na+].[Cl-]"},
		{ID: "g", Notation: "OO"},
	}

	var baseline []mtypes.AnnotatedRecord
	for _, workers := range []int{1, 2, 3, 16} {
		svc := newTestService(t, Options{Workers: workers}, Dependencies{})
		report, err := svc.Run(context.Background(), records)
		require.NoError(t, err)
		if baseline == nil {
			baseline = report.Records
			continue
		}
		assert.Equal(t, baseline, report.Records, "workers=%d", workers)
	}
}

func TestService_Run_EmptyInput(t *testing.T) {
	svc := newTestService(t, Options{Workers: 4}, Dependencies{})

	report, err := svc.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Records)
	assert.Equal(t, 0, report.Chunks)
	assert.Equal(t, mtypes.RunSucceeded, report.Status)
}

func TestService_Run_WithoutLibrary(t *testing.T) {
	svc, err := NewService(Options{}, Dependencies{})
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), []mtypes.Record{{ID: "q", Notation: "CC"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary))
}

func TestService_Run_UsesCachedMatches(t *testing.T) {
	cache := new(MockResultCache)
	svc := newTestService(t, Options{Workers: 1}, Dependencies{Cache: cache})

	cache.On("Get", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasSuffix(key, ":CCO")
	})).Return([]string{"eth", "ws"}, true, nil)

	report, err := svc.Run(context.Background(), []mtypes.Record{{ID: "eth", Notation: "CCO"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ws"}, report.Records[0].Matches)
	assert.Equal(t, 1, report.CacheHits)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Run_PopulatesCacheOnMiss(t *testing.T) {
	cache := new(MockResultCache)
	svc := newTestService(t, Options{Workers: 1}, Dependencies{Cache: cache})
	prefix := "match:" + svc.Library().Version() + ":"

	cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
	cache.On("Set", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, prefix) && strings.HasSuffix(key, ":CCO")
	}), []string{"eth", "ws"}).Return(nil)

	report, err := svc.Run(context.Background(), []mtypes.Record{{ID: "other", Notation: "CCO"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth", "ws"}, report.Records[0].Matches)
	cache.AssertExpectations(t)
}

func TestService_Run_CacheFailureIsNotFatal(t *testing.T) {
	cache := new(MockResultCache)
	logger := testutil.NewMockLogger()
	svc := newTestService(t, Options{Workers: 1}, Dependencies{Cache: cache, Logger: logger})

	cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, errors.New(errors.CodeCacheError, "redis down"))
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errors.New(errors.CodeCacheError, "redis down"))

	report, err := svc.Run(context.Background(), []mtypes.Record{{ID: "q", Notation: "CCC"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth"}, report.Records[0].Matches)
	assert.True(t, logger.HasMessage("warn", "result cache read failed"))
	assert.True(t, logger.HasMessage("warn", "result cache write failed"))
}

func TestService_Run_PublishesToSinks(t *testing.T) {
	events := new(MockEventPublisher)
	graph := new(MockGraphRepository)
	logger := testutil.NewMockLogger()
	svc := newTestService(t, Options{Workers: 2}, Dependencies{Events: events, Graph: graph, Logger: logger})

	graph.On("UpsertMatches", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events.On("PublishRunCompleted", mock.Anything, mock.MatchedBy(func(s mtypes.RunSummary) bool {
		return s.Status == mtypes.RunSucceeded && s.Records == 1
	}), mock.Anything).Return(errors.New(errors.ErrCodeMessagingFailed, "broker unavailable"))

	report, err := svc.Run(context.Background(), []mtypes.Record{{ID: "q", Notation: "CCC"}})
	require.NoError(t, err, "sink failures do not fail the run")

	graph.AssertCalled(t, "UpsertMatches", mock.Anything, report.RunID, report.Records)
	events.AssertExpectations(t)
	assert.True(t, logger.HasMessage("error", "publishing run completion"))

	stored, err := svc.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Records, stored.Records)
}

func TestService_Run_CancelledRecordsFailure(t *testing.T) {
	events := new(MockEventPublisher)
	svc := newTestService(t, Options{Workers: 2}, Dependencies{Events: events})
	events.On("PublishRunCompleted", mock.Anything, mock.MatchedBy(func(s mtypes.RunSummary) bool {
		return s.Status == mtypes.RunFailed
	}), mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := svc.Run(ctx, []mtypes.Record{{ID: "a", Notation: "CC"}, {ID: "b", Notation: "CO"}})
	require.Error(t, err)
	assert.Nil(t, report, "no partial output")
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))

	runs, err := svc.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, mtypes.RunFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
	events.AssertExpectations(t)
}

func TestService_GetRun_NotFound(t *testing.T) {
	svc := newTestService(t, Options{}, Dependencies{})
	_, err := svc.GetRun(context.Background(), common.NewID())
	assert.True(t, errors.IsCode(err, errors.ErrCodeRunNotFound))
}

func TestService_BuildLibrary_SkipsBadRecords(t *testing.T) {
	svc, err := NewService(Options{Workers: 3, MaxNodes: 12}, Dependencies{})
	require.NoError(t, err)

	lib, report, err := svc.BuildLibrary(context.Background(), []mtypes.Record{
		{ID: "eth", Notation: "CCO"},
		{ID: "bad", Notation: "C1CC"},
		{ID: "big", Notation: "CCCCCC"},
		{ID: "ws", Notation: "O"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth", "ws"}, lib.IDs())
	assert.Equal(t, 2, report.Entries)
	assert.Equal(t, lib.Version(), report.Version)
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipParseError])
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipGraphTooLarge])
	require.Len(t, report.Skipped, 2)
	assert.Equal(t, "bad", report.Skipped[0].ID)
	assert.Equal(t, "big", report.Skipped[1].ID)
	assert.Nil(t, svc.Library(), "BuildLibrary does not install the library")
}

func TestService_BuildLibrary_FatalConditions(t *testing.T) {
	svc, err := NewService(Options{Workers: 2}, Dependencies{})
	require.NoError(t, err)

	_, _, err = svc.BuildLibrary(context.Background(), []mtypes.Record{
		{ID: "a", Notation: "CC"},
		{ID: "a", Notation: "CO"},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary), "duplicate id")

	_, _, err = svc.BuildLibrary(context.Background(), []mtypes.Record{{ID: "", Notation: "CC"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary), "empty id")

	_, _, err = svc.BuildLibrary(context.Background(), []mtypes.Record{{ID: "x", Notation: "C(C"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary), "no usable entries")
}

func TestService_SetLibrary(t *testing.T) {
	svc, err := NewService(Options{MatchMode: mtypes.MatchShared}, Dependencies{})
	require.NoError(t, err)

	assert.True(t, errors.IsCode(svc.SetLibrary(nil), errors.ErrCodeInvalidLibrary))

	lb, err := molecule.NewLibraryBuilder(mtypes.MatchContains, nil)
	require.NoError(t, err)
	g, err := molecule.NewGraphBuilder(molecule.BuilderOptions{}).Build("CC")
	require.NoError(t, err)
	require.NoError(t, lb.Add("ethane", "", g))
	lib, err := lb.Build()
	require.NoError(t, err)

	err = svc.SetLibrary(lib)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidLibrary), "mode mismatch")
	assert.Nil(t, svc.Library())
}

func TestService_ContainsMode(t *testing.T) {
	svc := newTestService(t, Options{Workers: 2, MatchMode: mtypes.MatchContains, HeavyAtomsOnly: true}, Dependencies{})

	report, err := svc.Run(context.Background(), []mtypes.Record{
		{ID: "propanol", Notation: "CCCO"},
		{ID: "methanol", Notation: "CO"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth"}, report.Records[0].Matches, "propanol contains ethanol")
	assert.Empty(t, report.Records[1].Matches, "single-atom water is not indexed")
}

func TestNewService_InvalidMatchMode(t *testing.T) {
	_, err := NewService(Options{MatchMode: "fuzzy"}, Dependencies{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidMatchMode))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.EngineConfig{
		Workers:        6,
		MaxNodes:       30,
		MatchMode:      "contains",
		HeavyAtomsOnly: true,
		ChunkRetries:   2,
		RetryBackoff:   time.Second,
	})
	assert.Equal(t, 6, opts.Workers)
	assert.Equal(t, 30, opts.MaxNodes)
	assert.Equal(t, mtypes.MatchContains, opts.MatchMode)
	assert.True(t, opts.HeavyAtomsOnly)
	assert.Equal(t, 2, opts.ChunkRetries)
	assert.Equal(t, time.Second, opts.RetryBackoff)
}

func newRedisResultCache(t *testing.T) (*miniredis.Miniredis, *infraredis.ResultCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := infraredis.NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, infraredis.NewResultCache(client, logging.NewNopLogger(), infraredis.WithPrefix("t:"))
}

func TestService_Run_RedisResultCache(t *testing.T) {
	mr, cache := newRedisResultCache(t)
	svc := newTestService(t, Options{Workers: 3}, Dependencies{Cache: cache})
	records := []mtypes.Record{
		{ID: "q1", Notation: "CCO"},
		{ID: "q2", Notation: "CCO"},
		{ID: "eth", Notation: "CCO"},
	}

	first, err := svc.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth", "ws"}, first.Records[0].Matches)
	assert.Equal(t, []string{"eth", "ws"}, first.Records[1].Matches)
	assert.Equal(t, []string{"ws"}, first.Records[2].Matches, "no self match from a shared result")
	assert.LessOrEqual(t, first.CacheHits, 2, "the computing record is never a hit")
	require.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasPrefix(mr.Keys()[0], "t:match:"+svc.Library().Version()+":"))

	second, err := svc.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, second.CacheHits)
	assert.Equal(t, 3, second.Processed)
	for i := range records {
		assert.Equal(t, first.Records[i].Matches, second.Records[i].Matches)
	}
	assert.Equal(t, []string{"ws"}, second.Records[2].Matches, "no self match from a cached result")

	third, err := svc.Run(context.Background(), []mtypes.Record{{ID: "q3", Notation: "CCC"}})
	require.NoError(t, err)
	assert.Equal(t, 0, third.CacheHits)
	assert.Equal(t, []string{"eth"}, third.Records[0].Matches)
	assert.Len(t, mr.Keys(), 2)
}

func TestService_Run_SkipsOversizedRecords(t *testing.T) {
	svc := newTestService(t, Options{Workers: 2}, Dependencies{})

	report, err := svc.Run(context.Background(), []mtypes.Record{
		{ID: "q1", Notation: "CCC"},
		{ID: "huge", Notation: "[CH99999999999999999999]"},
		{ID: "wide", Notation: "[CH9][CH9][CH9]"},
	})
	require.NoError(t, err)
	require.Len(t, report.Records, 3)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipParseError])
	assert.Equal(t, 1, report.SkipCounts[mtypes.SkipGraphTooLarge])
	assert.Empty(t, report.Records[1].Matches)
	assert.Empty(t, report.Records[2].Matches)
}

type failingComputeCache struct{}

func (failingComputeCache) Get(context.Context, string) ([]string, bool, error) { return nil, false, nil }
func (failingComputeCache) Set(context.Context, string, []string) error { return nil }
func (failingComputeCache) GetOrCompute(context.Context, string, func(context.Context) ([]string, error)) ([]string, bool, error) {
	return nil, false, errors.New(errors.CodeCancelled, "matching cancelled")
}

func TestService_processChunk_MergesProgressOnCompletion(t *testing.T) {
	records := []mtypes.Record{
		{ID: "a", Notation: "CC"},
		{ID: "b", Notation: "CO"},
		{ID: "c", Notation: "C1CC"},
		{ID: "d", Notation: "N"},
	}
	newProgress := func() *runProgress {
		return &runProgress{total: len(records), throttle: &rate.Sometimes{Interval: time.Hour}}
	}

	svc := newTestService(t, Options{Workers: 2}, Dependencies{}).(*serviceImpl)
	m := molecule.NewMatcher(svc.Library(), svc.enum)
	progress := newProgress()
	_, err := svc.processChunk(context.Background(), logging.NewNopLogger(), m, records, Chunk{Index: 0, Start: 0, End: 1}, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(2), progress.processed.Load())
	_, err = svc.processChunk(context.Background(), logging.NewNopLogger(), m, records, Chunk{Index: 1, Start: 2, End: 3}, progress)
	require.NoError(t, err)
	assert.Equal(t, int64(4), progress.processed.Load(), "skipped records count as processed")

	failing := newTestService(t, Options{Workers: 1}, Dependencies{Cache: failingComputeCache{}}).(*serviceImpl)
	progress = newProgress()
	_, err = failing.processChunk(context.Background(), logging.NewNopLogger(), molecule.NewMatcher(failing.Library(), failing.enum),
		records, Chunk{Index: 0, Start: 0, End: 3}, progress)
	require.Error(t, err)
	assert.Equal(t, int64(0), progress.processed.Load(), "a failed attempt is not counted")
}
