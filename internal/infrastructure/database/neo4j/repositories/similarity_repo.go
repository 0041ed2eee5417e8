// Package repositories holds the Neo4j-backed graph repositories.
package repositories

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/subsim/internal/domain/molecule"
	infraNeo4j "github.com/turtacn/subsim/internal/infrastructure/database/neo4j"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// upsertBatchSize bounds the rows sent per UNWIND statement.
const upsertBatchSize = 1000

const upsertMatchesCypher = `
UNWIND $rows AS row
MERGE (q:Molecule {id: row.id})
SET q.name = row.name, q.notation = row.notation, q.last_run = $run_id
WITH q, row
UNWIND row.matches AS libID
MERGE (l:Molecule {id: libID})
MERGE (q)-[r:SHARES_SUBSTRUCTURE]->(l)
SET r.run_id = $run_id, r.updated_at = $updated_at
`

const neighborsCypher = `
MATCH (q:Molecule {id: $id})-[:SHARES_SUBSTRUCTURE]-(n:Molecule)
RETURN DISTINCT n.id AS id
ORDER BY id
`

// SimilarityGraphRepo writes match relationships as (:Molecule) nodes joined
// by SHARES_SUBSTRUCTURE edges.
type SimilarityGraphRepo struct {
	driver  infraNeo4j.DriverInterface
	log     logging.Logger
	metrics *prometheus.EngineMetrics
	now     func() time.Time
}

// NewSimilarityGraphRepo creates the repository.
func NewSimilarityGraphRepo(driver infraNeo4j.DriverInterface, log logging.Logger, metrics *prometheus.EngineMetrics) *SimilarityGraphRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if metrics == nil {
		metrics = prometheus.NewNoopEngineMetrics()
	}
	return &SimilarityGraphRepo{driver: driver, log: log, metrics: metrics, now: time.Now}
}

// UpsertMatches merges every record with at least one match.  Records
// without matches produce no nodes.
func (r *SimilarityGraphRepo) UpsertMatches(ctx context.Context, runID common.ID, records []mtypes.AnnotatedRecord) error {
	if runID == "" {
		return errors.InvalidParam("run id is required")
	}
	start := time.Now()
	defer func() {
		r.metrics.StorageOpDuration.WithLabelValues("neo4j", "upsert_matches").Observe(time.Since(start).Seconds())
	}()

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if len(rec.Matches) == 0 || rec.ID == "" {
			continue
		}
		matches := make([]any, len(rec.Matches))
		for i, m := range rec.Matches {
			matches[i] = m
		}
		rows = append(rows, map[string]any{
			"id":       rec.ID,
			"name":     rec.Name,
			"notation": rec.Notation,
			"matches":  matches,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	updatedAt := r.now().UTC()
	for off := 0; off < len(rows); off += upsertBatchSize {
		batch := rows[off:min(off+upsertBatchSize, len(rows))]
		_, err := r.driver.ExecuteWrite(ctx, func(tx infraNeo4j.Transaction) (interface{}, error) {
			res, err := tx.Run(ctx, upsertMatchesCypher, map[string]any{
				"rows":       batch,
				"run_id":     runID.String(),
				"updated_at": updatedAt,
			})
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeGraphDBFailed, "failed to upsert similarity edges").
				WithDetailf("run=%s batch_offset=%d", runID, off)
		}
	}
	r.log.Debug("similarity graph updated",
		logging.String("run_id", runID.String()),
		logging.Int("molecules", len(rows)))
	return nil
}

// Neighbors returns ids of molecules sharing a substructure edge with id, in
// either direction, sorted ascending.
func (r *SimilarityGraphRepo) Neighbors(ctx context.Context, id string) ([]string, error) {
	if id == "" {
		return nil, errors.InvalidParam("molecule id is required")
	}
	start := time.Now()
	defer func() {
		r.metrics.StorageOpDuration.WithLabelValues("neo4j", "neighbors").Observe(time.Since(start).Seconds())
	}()

	out, err := r.driver.ExecuteRead(ctx, func(tx infraNeo4j.Transaction) (interface{}, error) {
		res, err := tx.Run(ctx, neighborsCypher, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		return infraNeo4j.CollectRecords(ctx, res, func(rec *neo4j.Record) (string, error) {
			v, _ := rec.Get("id")
			s, ok := v.(string)
			if !ok {
				return "", errors.New(errors.ErrCodeGraphDBFailed, "unexpected neighbor id type")
			}
			return s, nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeGraphDBFailed, "failed to load neighbors").WithDetail(id)
	}
	return out.([]string), nil
}

var _ molecule.SimilarityGraphRepository = (*SimilarityGraphRepo)(nil)
