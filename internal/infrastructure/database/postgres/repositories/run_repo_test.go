package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/internal/infrastructure/database/postgres"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

var runColumnNames = []string{
	"run_id", "status", "match_mode", "library_version", "library_size",
	"processed", "matched", "cache_hits", "chunks", "workers",
	"skip_counts", "skipped", "error", "started_at", "finished_at",
}

type RunRepoTestSuite struct {
	suite.Suite
	db   *sql.DB
	mock sqlmock.Sqlmock
	repo molecule.RunRepository
}

func (s *RunRepoTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	require.NoError(s.T(), err)
	conn := postgres.NewConnectionWithDB(s.db, logging.NewNopLogger())
	s.repo = NewPostgresRunRepo(conn, logging.NewNopLogger(), nil)
}

func (s *RunRepoTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
	s.db.Close()
}

func sampleReport() *mtypes.RunReport {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mtypes.RunReport{
		RunID:          common.ID("run-1"),
		Status:         mtypes.RunSucceeded,
		MatchMode:      mtypes.MatchShared,
		LibraryVersion: "abc123",
		LibrarySize:    2,
		Records: []mtypes.AnnotatedRecord{
			{Record: mtypes.Record{ID: "q1", Notation: "CCC"}, Matches: []string{"eth"}},
			{Record: mtypes.Record{ID: "q2", Name: "bad", Notation: "C(C"}, Matches: []string{}},
		},
		Skipped:    []mtypes.SkippedRecord{{Index: 1, ID: "q2", Reason: mtypes.SkipParseError}},
		SkipCounts: map[mtypes.SkipReason]int{mtypes.SkipParseError: 1},
		Processed:  1,
		Matched:    1,
		Chunks:     1,
		Workers:    1,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func (s *RunRepoTestSuite) TestSaveRun_Success() {
	rep := sampleReport()

	s.mock.ExpectBegin()
	s.mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "succeeded", "shared", "abc123", 2,
			1, 1, 0, 1, 1,
			sqlmock.AnyArg(), sqlmock.AnyArg(), "", rep.StartedAt, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec("DELETE FROM run_records").WithArgs("run-1").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(`INSERT INTO run_records .* VALUES \(\$1,\$2,\$3,\$4,\$5,\$6\),\(\$7`).
		WithArgs("run-1", 0, "q1", "", "CCC", "eth", "run-1", 1, "q2", "bad", "C(C", "").
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectCommit()

	s.NoError(s.repo.SaveRun(context.Background(), rep))
}

func (s *RunRepoTestSuite) TestSaveRun_RollsBackOnFailure() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec("INSERT INTO runs").WillReturnError(assert.AnError)
	s.mock.ExpectRollback()

	err := s.repo.SaveRun(context.Background(), sampleReport())
	s.True(errors.IsCode(err, errors.ErrCodeDatabaseError))
}

func (s *RunRepoTestSuite) TestSaveRun_InvalidReport() {
	err := s.repo.SaveRun(context.Background(), &mtypes.RunReport{})
	s.True(errors.IsCode(err, errors.CodeInvalidParam))
}

func (s *RunRepoTestSuite) TestFindRun_Found() {
	rep := sampleReport()
	s.mock.ExpectQuery("SELECT .* FROM runs WHERE run_id =").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows(runColumnNames).AddRow(
			"run-1", "succeeded", "shared", "abc123", 2,
			1, 1, 0, 1, 1,
			[]byte(`{"parse_error":1}`), []byte(`[{"index":1,"id":"q2","reason":"parse_error"}]`), "", rep.StartedAt, rep.FinishedAt,
		))
	s.mock.ExpectQuery("SELECT record_id, name, notation, matches").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "name", "notation", "matches"}).
			AddRow("q1", "", "CCC", "eth").
			AddRow("q2", "bad", "C(C", ""))

	got, err := s.repo.FindRun(context.Background(), "run-1")
	s.Require().NoError(err)
	s.Equal(rep.RunID, got.RunID)
	s.Equal(mtypes.RunSucceeded, got.Status)
	s.Equal(rep.SkipCounts, got.SkipCounts)
	s.Equal(rep.Skipped, got.Skipped)
	s.Equal(rep.Records, got.Records)
	s.Equal(rep.FinishedAt, got.FinishedAt)
}

func (s *RunRepoTestSuite) TestFindRun_NotFound() {
	s.mock.ExpectQuery("SELECT .* FROM runs WHERE run_id =").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.repo.FindRun(context.Background(), "missing")
	s.True(errors.IsCode(err, errors.ErrCodeRunNotFound))
}

func (s *RunRepoTestSuite) TestListRuns() {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.mock.ExpectQuery("SELECT .* FROM runs\\s+ORDER BY started_at DESC").
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(append(runColumnNames, "records")).
			AddRow("run-2", "failed", "contains", "v", 1, 0, 0, 0, 2, 2,
				[]byte(`{}`), []byte(`[]`), "[SUB_003] worker failed", started.Add(time.Minute), nil, 0).
			AddRow("run-1", "succeeded", "shared", "v", 1, 5, 3, 1, 2, 2,
				[]byte(`{}`), []byte(`[]`), "", started, started.Add(time.Second), 5))

	runs, err := s.repo.ListRuns(context.Background(), 10, 0)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal(common.ID("run-2"), runs[0].RunID)
	s.Equal(mtypes.RunFailed, runs[0].Status)
	s.True(runs[0].FinishedAt.IsZero())
	s.Equal(5, runs[1].Records)
	s.Equal(3, runs[1].Matched)
}

func (s *RunRepoTestSuite) TestListRuns_NoLimit() {
	s.mock.ExpectQuery("SELECT .* FROM runs").
		WithArgs(nil, 0).
		WillReturnRows(sqlmock.NewRows(append(runColumnNames, "records")))

	runs, err := s.repo.ListRuns(context.Background(), 0, -3)
	s.Require().NoError(err)
	s.NotNil(runs)
	s.Empty(runs)
}

func TestRunRepoTestSuite(t *testing.T) {
	suite.Run(t, new(RunRepoTestSuite))
}
