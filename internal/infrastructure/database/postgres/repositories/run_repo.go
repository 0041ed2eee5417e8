package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/internal/infrastructure/database/postgres"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// recordBatchSize bounds the rows per multi-row INSERT (6 params per row).
const recordBatchSize = 500

// postgresRunRepo persists run reports and their annotated records.
type postgresRunRepo struct {
	conn    *postgres.Connection
	log     logging.Logger
	metrics *prometheus.EngineMetrics
}

// NewPostgresRunRepo creates a molecule.RunRepository backed by PostgreSQL.
func NewPostgresRunRepo(conn *postgres.Connection, log logging.Logger, metrics *prometheus.EngineMetrics) molecule.RunRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNoopEngineMetrics()
	}
	return &postgresRunRepo{conn: conn, log: log, metrics: metrics}
}

func (r *postgresRunRepo) observe(op string, start time.Time) {
	r.metrics.StorageOpDuration.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
}

// SaveRun upserts the run row and replaces its records in one transaction.
func (r *postgresRunRepo) SaveRun(ctx context.Context, report *mtypes.RunReport) error {
	if report == nil || report.RunID == "" {
		return errors.InvalidParam("run report without id")
	}
	defer r.observe("save_run", time.Now())

	skipCounts, err := json.Marshal(report.SkipCounts)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode skip counts")
	}
	skipped := report.Skipped
	if skipped == nil {
		skipped = []mtypes.SkippedRecord{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode skipped records")
	}

	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (
				run_id, status, match_mode, library_version, library_size,
				processed, matched, cache_hits, chunks, workers,
				skip_counts, skipped, error, started_at, finished_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (run_id) DO UPDATE SET
				status = EXCLUDED.status,
				processed = EXCLUDED.processed,
				matched = EXCLUDED.matched,
				cache_hits = EXCLUDED.cache_hits,
				chunks = EXCLUDED.chunks,
				workers = EXCLUDED.workers,
				skip_counts = EXCLUDED.skip_counts,
				skipped = EXCLUDED.skipped,
				error = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at`,
			report.RunID, report.Status, report.MatchMode, report.LibraryVersion, report.LibrarySize,
			report.Processed, report.Matched, report.CacheHits, report.Chunks, report.Workers,
			skipCounts, skippedJSON, report.Error, report.StartedAt, nullTime(report.FinishedAt),
		)
		if err != nil {
			r.log.Error("Failed to upsert run", logging.String("run_id", report.RunID.String()), logging.Err(err))
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save run")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM run_records WHERE run_id = $1`, report.RunID); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to clear run records")
		}
		for start := 0; start < len(report.Records); start += recordBatchSize {
			end := min(start+recordBatchSize, len(report.Records))
			if err := insertRecords(ctx, tx, report.RunID, start, report.Records[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRecords(ctx context.Context, q queryExecutor, runID common.ID, offset int, records []mtypes.AnnotatedRecord) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO run_records (run_id, position, record_id, name, notation, matches) VALUES ")
	args := make([]interface{}, 0, len(records)*6)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(",")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, runID, offset+i, rec.ID, rec.Name, rec.Notation, rec.MatchesColumn())
	}
	if _, err := q.ExecContext(ctx, sb.String(), args...); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert run records").
			WithDetailf("run_id=%s offset=%d", runID, offset)
	}
	return nil
}

const runColumns = `run_id, status, match_mode, library_version, library_size,
	processed, matched, cache_hits, chunks, workers,
	skip_counts, skipped, error, started_at, finished_at`

// FindRun loads a run with its records in input order.
func (r *postgresRunRepo) FindRun(ctx context.Context, id common.ID) (*mtypes.RunReport, error) {
	defer r.observe("find_run", time.Now())
	db := r.conn.DB()

	report, err := scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, id))
	if err != nil {
		if stdliberrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrCodeRunNotFound, "run not found").WithDetail(id.String())
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load run")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT record_id, name, notation, matches
		FROM run_records WHERE run_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load run records")
	}
	defer rows.Close()

	report.Records = []mtypes.AnnotatedRecord{}
	for rows.Next() {
		var rec mtypes.AnnotatedRecord
		var matches string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Notation, &matches); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run record")
		}
		rec.Matches = mtypes.ParseMatchesColumn(matches)
		report.Records = append(report.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate run records")
	}
	return report, nil
}

// ListRuns returns run summaries newest first.  limit <= 0 means no limit.
func (r *postgresRunRepo) ListRuns(ctx context.Context, limit, offset int) ([]mtypes.RunSummary, error) {
	defer r.observe("list_runs", time.Now())
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := r.conn.DB().QueryContext(ctx, `
		SELECT `+runColumns+`,
			(SELECT count(*) FROM run_records rr WHERE rr.run_id = runs.run_id) AS records
		FROM runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT $1 OFFSET $2`, lim, max(offset, 0))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list runs")
	}
	defer rows.Close()

	out := []mtypes.RunSummary{}
	for rows.Next() {
		var records int
		report, err := scanRun(rows, &records)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan run")
		}
		s := report.Summary()
		s.Records = records
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate runs")
	}
	return out, nil
}

func scanRun(row scanner, extra ...interface{}) (*mtypes.RunReport, error) {
	var (
		rep         mtypes.RunReport
		runID       string
		skipCounts  []byte
		skippedJSON []byte
		finishedAt  sql.NullTime
	)
	dest := []interface{}{
		&runID, &rep.Status, &rep.MatchMode, &rep.LibraryVersion, &rep.LibrarySize,
		&rep.Processed, &rep.Matched, &rep.CacheHits, &rep.Chunks, &rep.Workers,
		&skipCounts, &skippedJSON, &rep.Error, &rep.StartedAt, &finishedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rep.RunID = common.ID(runID)
	if finishedAt.Valid {
		rep.FinishedAt = finishedAt.Time
	}
	rep.SkipCounts = map[mtypes.SkipReason]int{}
	if len(skipCounts) > 0 {
		if err := json.Unmarshal(skipCounts, &rep.SkipCounts); err != nil {
			return nil, err
		}
	}
	rep.Skipped = []mtypes.SkippedRecord{}
	if len(skippedJSON) > 0 {
		if err := json.Unmarshal(skippedJSON, &rep.Skipped); err != nil {
			return nil, err
		}
	}
	return &rep, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
