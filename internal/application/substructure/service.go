package substructure

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/subsim/internal/config"
	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// Service defines the similarity run operations.
type Service interface {
	// Run annotates records against the loaded library.  Per-record parse
	// and size conditions are skipped and counted; any chunk failure aborts
	// the run with no partial output.
	Run(ctx context.Context, records []mtypes.Record) (*mtypes.RunReport, error)

	// BuildLibrary builds a reference library through the same graph
	// builder used for queries.
	BuildLibrary(ctx context.Context, records []mtypes.Record) (*molecule.ReferenceLibrary, *LibraryReport, error)

	// LoadLibrary builds a library and makes it the one used by Run.
	LoadLibrary(ctx context.Context, records []mtypes.Record) (*LibraryReport, error)

	// SetLibrary swaps the library used by subsequent runs.
	SetLibrary(lib *molecule.ReferenceLibrary) error

	// Library returns the current library, nil before one is loaded.
	Library() *molecule.ReferenceLibrary

	GetRun(ctx context.Context, id common.ID) (*mtypes.RunReport, error)
	ListRuns(ctx context.Context, limit, offset int) ([]mtypes.RunSummary, error)
}

// LibraryReport describes a library build.
type LibraryReport struct {
	Version    string                    `json:"version"`
	Mode       mtypes.MatchMode          `json:"mode"`
	Entries    int                       `json:"entries"`
	Classes    int                       `json:"classes"`
	MaxIndexed int                       `json:"max_indexed_size"`
	Skipped    []mtypes.SkippedRecord    `json:"skipped"`
	SkipCounts map[mtypes.SkipReason]int `json:"skip_counts"`
	Duration   time.Duration             `json:"duration"`
}

// Options holds engine tunables.
type Options struct {
	Workers          int
	MaxNodes         int
	MaxSubgraphSize  int
	HeavyAtomsOnly   bool
	MatchMode        mtypes.MatchMode
	ChunkRetries     int
	RetryBackoff     time.Duration
	ProgressInterval time.Duration
}

// OptionsFromConfig maps the engine config section onto Options.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		Workers:          cfg.Workers,
		MaxNodes:         cfg.MaxNodes,
		MaxSubgraphSize:  cfg.MaxSubgraphSize,
		HeavyAtomsOnly:   cfg.HeavyAtomsOnly,
		MatchMode:        mtypes.MatchMode(cfg.MatchMode),
		ChunkRetries:     cfg.ChunkRetries,
		RetryBackoff:     cfg.RetryBackoff,
		ProgressInterval: cfg.ProgressInterval,
	}
}

// Dependencies are the collaborators of the service.  Every field except
// Logger and Metrics may be nil.
type Dependencies struct {
	Logger  logging.Logger
	Metrics *prometheus.EngineMetrics
	Cache   molecule.ResultCache
	Runs    molecule.RunRepository
	Graph   molecule.SimilarityGraphRepository
	Events  molecule.RunEventPublisher
	Clock   func() time.Time
}

// serviceImpl implements the Service interface.
type serviceImpl struct {
	opts    Options
	builder *molecule.GraphBuilder
	enum    *molecule.Enumerator
	lib     atomic.Pointer[molecule.ReferenceLibrary]

	logger  logging.Logger
	metrics *prometheus.EngineMetrics
	cache   molecule.ResultCache
	runs    molecule.RunRepository
	graph   molecule.SimilarityGraphRepository
	events  molecule.RunEventPublisher
	now     func() time.Time
}

// NewService creates the run service.  A nil Runs repository is replaced by
// an in-memory store so runs stay retrievable.
func NewService(opts Options, deps Dependencies) (Service, error) {
	if opts.MatchMode == "" {
		opts.MatchMode = mtypes.MatchShared
	}
	if !opts.MatchMode.Valid() {
		return nil, errors.New(errors.ErrCodeInvalidMatchMode, "unknown match mode").WithDetail(string(opts.MatchMode))
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = config.DefaultProgressInterval
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewNoopEngineMetrics()
	}
	if deps.Runs == nil {
		deps.Runs = NewMemoryRunRepository(0)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	enum := molecule.NewEnumerator(opts.MaxNodes, opts.MaxSubgraphSize)
	return &serviceImpl{
		opts:    opts,
		builder: molecule.NewGraphBuilder(molecule.BuilderOptions{HeavyAtomsOnly: opts.HeavyAtomsOnly, MaxNodes: enum.MaxNodes()}),
		enum:    enum,
		logger:  deps.Logger.Named("substructure"),
		metrics: deps.Metrics,
		cache:   deps.Cache,
		runs:    deps.Runs,
		graph:   deps.Graph,
		events:  deps.Events,
		now:     deps.Clock,
	}, nil
}

func (s *serviceImpl) Library() *molecule.ReferenceLibrary { return s.lib.Load() }

func (s *serviceImpl) SetLibrary(lib *molecule.ReferenceLibrary) error {
	if lib == nil {
		return errors.New(errors.ErrCodeInvalidLibrary, "nil reference library")
	}
	if lib.Mode() != s.opts.MatchMode {
		return errors.New(errors.ErrCodeInvalidLibrary, "library match mode differs from engine").
			WithDetailf("library=%s engine=%s", lib.Mode(), s.opts.MatchMode)
	}
	s.lib.Store(lib)
	s.metrics.LibrarySize.WithLabelValues(lib.Version()).Set(float64(lib.Len()))
	s.metrics.LibraryClasses.WithLabelValues(lib.Version()).Set(float64(lib.ClassCount()))
	s.logger.Info("reference library loaded",
		logging.String("version", lib.Version()),
		logging.Int("entries", lib.Len()),
		logging.Int("classes", lib.ClassCount()))
	return nil
}

func (s *serviceImpl) newPool(name string) poolRunner {
	return poolRunner{
		workers: s.opts.Workers,
		opts: []PoolOption{
			WithName(name),
			WithLogger(s.logger),
			WithMetrics(s.metrics),
			WithRetry(RetryPolicy{
				MaxRetries:     s.opts.ChunkRetries,
				InitialBackoff: s.opts.RetryBackoff,
				MaxBackoff:     30 * s.opts.RetryBackoff,
			}),
		},
	}
}

type poolRunner struct {
	workers int
	opts    []PoolOption
}

// runChunks partitions n items, runs fn per chunk and aggregates the
// per-item outputs back into input order.
func runChunks[T any](ctx context.Context, pr poolRunner, n int, fn ChunkFunc[[]T]) ([]T, int, error) {
	chunks, err := Partition(n, pr.workers)
	if err != nil {
		return nil, 0, err
	}
	results, err := NewWorkerPool[[]T](pr.workers, pr.opts...).Run(ctx, chunks, fn)
	if err != nil {
		return nil, len(chunks), err
	}
	out, err := Aggregate(chunks, results)
	return out, len(chunks), err
}

// ─────────────────────────────────────────────────────────────────────────────
// Run
// ─────────────────────────────────────────────────────────────────────────────

type recordOutcome struct {
	record    mtypes.AnnotatedRecord
	skip      *mtypes.SkippedRecord
	subgraphs int
	cached    bool
}

type runProgress struct {
	total     int
	processed atomic.Int64
	throttle  *rate.Sometimes
}

func (s *serviceImpl) Run(ctx context.Context, records []mtypes.Record) (*mtypes.RunReport, error) {
	lib := s.lib.Load()
	if lib == nil {
		return nil, errors.New(errors.ErrCodeInvalidLibrary, "no reference library loaded")
	}
	matcher := molecule.NewMatcher(lib, s.enum)

	report := &mtypes.RunReport{
		RunID:          common.NewID(),
		Status:         mtypes.RunRunning,
		MatchMode:      lib.Mode(),
		LibraryVersion: lib.Version(),
		LibrarySize:    lib.Len(),
		SkipCounts:     make(map[mtypes.SkipReason]int),
		StartedAt:      s.now(),
	}
	log := s.logger.With(logging.String("run_id", report.RunID.String()))
	log.Info("run started",
		logging.Int("records", len(records)),
		logging.Int("workers", s.opts.Workers),
		logging.String("library_version", lib.Version()))

	progress := &runProgress{total: len(records), throttle: &rate.Sometimes{Interval: s.opts.ProgressInterval}}
	pr := s.newPool("run")
	outcomes, chunks, err := runChunks(ctx, pr, len(records), func(ctx context.Context, c Chunk) ([]recordOutcome, error) {
		return s.processChunk(ctx, log, matcher, records, c, progress)
	})
	report.Chunks = chunks
	report.Workers = min(s.opts.Workers, max(len(records), 1))
	if err != nil {
		return nil, s.failRun(ctx, log, report, err)
	}

	report.Records = make([]mtypes.AnnotatedRecord, len(outcomes))
	report.Skipped = []mtypes.SkippedRecord{}
	subgraphs := 0
	for i, o := range outcomes {
		report.Records[i] = o.record
		subgraphs += o.subgraphs
		if o.skip != nil {
			report.Skipped = append(report.Skipped, *o.skip)
			report.SkipCounts[o.skip.Reason]++
			s.metrics.RecordsSkipped.WithLabelValues(string(o.skip.Reason)).Inc()
			s.metrics.RecordsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		report.Processed++
		if o.cached {
			report.CacheHits++
		}
		if len(o.record.Matches) > 0 {
			report.Matched++
			s.metrics.RecordsTotal.WithLabelValues("matched").Inc()
		} else {
			s.metrics.RecordsTotal.WithLabelValues("unmatched").Inc()
		}
		s.metrics.MatchesPerQuery.WithLabelValues(string(report.MatchMode)).Observe(float64(len(o.record.Matches)))
	}
	s.metrics.SubgraphsEnumerated.WithLabelValues("query").Add(float64(subgraphs))

	report.Status = mtypes.RunSucceeded
	report.FinishedAt = s.now()
	prometheus.RecordRun(s.metrics, string(report.MatchMode), true, report.Duration())
	log.Info("run finished",
		logging.Int("processed", report.Processed),
		logging.Int("matched", report.Matched),
		logging.Int("skipped", report.TotalSkipped()),
		logging.Int("subgraphs", subgraphs),
		logging.Duration("duration", report.Duration()))

	s.publish(ctx, log, report)
	return report, nil
}

// processChunk handles the records of one chunk in index order.  Progress
// is counted locally and merged into the run counter when the chunk
// completes; a failed attempt contributes nothing.
func (s *serviceImpl) processChunk(ctx context.Context, log logging.Logger, m *molecule.Matcher, records []mtypes.Record, c Chunk, progress *runProgress) ([]recordOutcome, error) {
	out := make([]recordOutcome, 0, c.Len())
	processed := 0
	for i := c.Start; i <= c.End; i++ {
		o, err := s.processRecord(ctx, m, i, records[i])
		if err != nil {
			return nil, err
		}
		if o.skip != nil {
			log.Warn("record skipped",
				logging.Int("index", o.skip.Index),
				logging.String("id", o.skip.ID),
				logging.String("reason", string(o.skip.Reason)),
				logging.String("detail", o.skip.Detail))
		}
		out = append(out, o)
		processed++
	}
	progress.merge(log, processed)
	return out, nil
}

func (p *runProgress) merge(log logging.Logger, n int) {
	done := p.processed.Add(int64(n))
	p.throttle.Do(func() {
		log.Info("run progress",
			logging.Int64("processed", done),
			logging.Int("total", p.total))
	})
}

func (s *serviceImpl) processRecord(ctx context.Context, m *molecule.Matcher, index int, rec mtypes.Record) (recordOutcome, error) {
	mol := molecule.NewMolecule(rec)
	o := recordOutcome{record: mtypes.AnnotatedRecord{Record: rec, Matches: []string{}}}

	g, err := s.builder.Build(rec.Notation)
	if err != nil {
		if errors.IsSkippable(err) {
			o.skip = skipFor(index, rec.ID, err)
			return o, nil
		}
		return o, err
	}
	if err := m.Enumerator().Check(g); err != nil {
		o.skip = skipFor(index, rec.ID, err)
		return o, nil
	}
	mol.Graph = g

	key := s.cacheKey(m.Library(), rec.Notation)
	if cc, ok := s.cache.(computingCache); ok {
		subgraphs := 0
		ids, hit, err := cc.GetOrCompute(ctx, key, func(ctx context.Context) ([]string, error) {
			ids, stats, err := m.MatchAll(ctx, g)
			subgraphs = stats.Subgraphs
			return ids, err
		})
		if err != nil {
			return o, err
		}
		o.subgraphs = subgraphs
		prometheus.RecordCacheAccess(s.metrics, "results", hit)
		mol.SetMatches(ids)
		mol.Release()
		o.record.Matches = mol.Matches()
		o.cached = hit
		return o, nil
	}
	if ids, ok := s.cacheGet(ctx, key); ok {
		mol.SetMatches(ids)
		mol.Release()
		o.record.Matches = mol.Matches()
		o.cached = true
		return o, nil
	}

	ids, stats, err := m.MatchAll(ctx, g)
	if err != nil {
		if errors.IsSkippable(err) {
			o.skip = skipFor(index, rec.ID, err)
			return o, nil
		}
		return o, err
	}
	s.cacheSet(ctx, key, ids)

	mol.SetMatches(ids)
	mol.Release()
	o.record.Matches = mol.Matches()
	o.subgraphs = stats.Subgraphs
	return o, nil
}

// computingCache is a ResultCache that also collapses concurrent
// computations of the same key.  hit is true only when the store served
// the value.
type computingCache interface {
	GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]string, error)) (ids []string, hit bool, err error)
}

func skipFor(index int, id string, err error) *mtypes.SkippedRecord {
	reason := mtypes.SkipParseError
	if errors.IsCode(err, errors.CodeGraphTooLarge) {
		reason = mtypes.SkipGraphTooLarge
	}
	return &mtypes.SkippedRecord{Index: index, ID: id, Reason: reason, Detail: err.Error()}
}

// cacheKey identifies a match list by everything it depends on: library
// content, enumeration bounds, hydrogen handling and the notation itself.
// Self-exclusion is applied after lookup, so the key carries no record id.
func (s *serviceImpl) cacheKey(lib *molecule.ReferenceLibrary, notation string) string {
	return fmt.Sprintf("match:%s:%d:%d:%t:%s",
		lib.Version(), s.enum.MaxNodes(), s.enum.MaxSubgraphSize(), s.opts.HeavyAtomsOnly, notation)
}

func (s *serviceImpl) cacheGet(ctx context.Context, key string) ([]string, bool) {
	if s.cache == nil {
		return nil, false
	}
	ids, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("result cache read failed", logging.Err(err))
		return nil, false
	}
	prometheus.RecordCacheAccess(s.metrics, "results", ok)
	return ids, ok
}

func (s *serviceImpl) cacheSet(ctx context.Context, key string, ids []string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, ids); err != nil {
		s.logger.Warn("result cache write failed", logging.Err(err))
	}
}

// failRun records a failed run and returns the error to surface.
func (s *serviceImpl) failRun(ctx context.Context, log logging.Logger, report *mtypes.RunReport, err error) error {
	report.Status = mtypes.RunFailed
	report.Error = err.Error()
	report.FinishedAt = s.now()
	prometheus.RecordRun(s.metrics, string(report.MatchMode), false, report.Duration())

	fields := []logging.Field{logging.Err(err), logging.String("code", string(errors.GetCode(err)))}
	if c, ok := FailedChunk(err); ok {
		fields = append(fields, logging.Int("chunk", c.Index), logging.Int("start", c.Start), logging.Int("end", c.End))
	}
	log.Error("run failed", fields...)

	// The failure is recorded even when the caller's context is gone.
	saveCtx := context.WithoutCancel(ctx)
	if serr := s.runs.SaveRun(saveCtx, report); serr != nil {
		log.Error("saving failed run", logging.Err(serr))
	}
	if s.events != nil {
		if perr := s.events.PublishRunCompleted(saveCtx, report.Summary(), report.FinishedAt); perr != nil {
			log.Error("publishing run failure", logging.Err(perr))
		}
	}
	return err
}

// publish hands a finished report to the configured sinks.  Sink failures
// are logged; the computed report is still returned to the caller.
func (s *serviceImpl) publish(ctx context.Context, log logging.Logger, report *mtypes.RunReport) {
	if err := s.runs.SaveRun(ctx, report); err != nil {
		log.Error("saving run", logging.Err(err))
	}
	if s.graph != nil {
		if err := s.graph.UpsertMatches(ctx, report.RunID, report.Records); err != nil {
			log.Error("exporting similarity graph", logging.Err(err))
		}
	}
	if s.events != nil {
		if err := s.events.PublishRunCompleted(ctx, report.Summary(), report.FinishedAt); err != nil {
			log.Error("publishing run completion", logging.Err(err))
		}
	}
}

func (s *serviceImpl) GetRun(ctx context.Context, id common.ID) (*mtypes.RunReport, error) {
	return s.runs.FindRun(ctx, id)
}

func (s *serviceImpl) ListRuns(ctx context.Context, limit, offset int) ([]mtypes.RunSummary, error) {
	return s.runs.ListRuns(ctx, limit, offset)
}

// ─────────────────────────────────────────────────────────────────────────────
// Library
// ─────────────────────────────────────────────────────────────────────────────

type libraryOutcome struct {
	prepared *molecule.PreparedEntry
	skip     *mtypes.SkippedRecord
}

func (s *serviceImpl) BuildLibrary(ctx context.Context, records []mtypes.Record) (*molecule.ReferenceLibrary, *LibraryReport, error) {
	start := s.now()
	lb, err := molecule.NewLibraryBuilder(s.opts.MatchMode, s.enum)
	if err != nil {
		return nil, nil, err
	}

	outcomes, _, err := runChunks(ctx, s.newPool("library"), len(records), func(ctx context.Context, c Chunk) ([]libraryOutcome, error) {
		out := make([]libraryOutcome, 0, c.Len())
		for i := c.Start; i <= c.End; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec := records[i]
			g, err := s.builder.Build(rec.Notation)
			if err == nil {
				var p *molecule.PreparedEntry
				if p, err = lb.Prepare(rec.ID, rec.Name, g); err == nil {
					out = append(out, libraryOutcome{prepared: p})
					continue
				}
			}
			if !errors.IsSkippable(err) {
				return nil, err
			}
			out = append(out, libraryOutcome{skip: skipFor(i, rec.ID, err)})
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}

	report := &LibraryReport{
		Mode:       s.opts.MatchMode,
		Skipped:    []mtypes.SkippedRecord{},
		SkipCounts: make(map[mtypes.SkipReason]int),
	}
	for _, o := range outcomes {
		if o.skip != nil {
			report.Skipped = append(report.Skipped, *o.skip)
			report.SkipCounts[o.skip.Reason]++
			s.logger.Warn("library record skipped",
				logging.Int("index", o.skip.Index),
				logging.String("id", o.skip.ID),
				logging.String("reason", string(o.skip.Reason)),
				logging.String("detail", o.skip.Detail))
			continue
		}
		if err := lb.AddPrepared(o.prepared); err != nil {
			return nil, nil, err
		}
	}

	lib, err := lb.Build()
	if err != nil {
		return nil, nil, err
	}
	report.Version = lib.Version()
	report.Entries = lib.Len()
	report.Classes = lib.ClassCount()
	report.MaxIndexed = lib.MaxIndexedSize()
	report.Duration = s.now().Sub(start)
	s.logger.Info("reference library built",
		logging.String("version", report.Version),
		logging.Int("entries", report.Entries),
		logging.Int("classes", report.Classes),
		logging.Int("skipped", len(report.Skipped)),
		logging.Duration("duration", report.Duration))
	return lib, report, nil
}

func (s *serviceImpl) LoadLibrary(ctx context.Context, records []mtypes.Record) (*LibraryReport, error) {
	lib, report, err := s.BuildLibrary(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := s.SetLibrary(lib); err != nil {
		return nil, err
	}
	return report, nil
}
