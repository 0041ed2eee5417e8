package substructure

import (
	"context"
	"time"

	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// TableStore reads input tables and writes annotated tables by location.
type TableStore interface {
	ReadRecords(ctx context.Context, location string) ([]mtypes.Record, error)
	WriteAnnotated(ctx context.Context, location string, records []mtypes.AnnotatedRecord) error
	Exists(ctx context.Context, location string) (bool, error)
}

// TableRunner runs whole tables through a Service.  It backs the CLI, the
// request worker and the inbox watcher.
type TableRunner struct {
	svc    Service
	tables TableStore
	logger logging.Logger
}

// NewTableRunner creates a runner.
func NewTableRunner(svc Service, tables TableStore, log logging.Logger) *TableRunner {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &TableRunner{svc: svc, tables: tables, logger: log.Named("tables")}
}

// Service returns the wrapped service.
func (r *TableRunner) Service() Service { return r.svc }

// LoadLibrary reads the library table at location and installs it.
func (r *TableRunner) LoadLibrary(ctx context.Context, location string) (*LibraryReport, error) {
	records, err := r.tables.ReadRecords(ctx, location)
	if err != nil {
		return nil, err
	}
	report, err := r.svc.LoadLibrary(ctx, records)
	if err != nil {
		return nil, errors.Wrap(err, errors.GetCode(err), "failed to load library").WithDetail(location)
	}
	return report, nil
}

// InspectLibrary builds the library at location without installing it.
func (r *TableRunner) InspectLibrary(ctx context.Context, location string) (*LibraryReport, error) {
	records, err := r.tables.ReadRecords(ctx, location)
	if err != nil {
		return nil, err
	}
	_, report, err := r.svc.BuildLibrary(ctx, records)
	if err != nil {
		return nil, errors.Wrap(err, errors.GetCode(err), "failed to build library").WithDetail(location)
	}
	return report, nil
}

// RunTable annotates the table at input and writes it to output.  Nothing
// is written when the run fails.
func (r *TableRunner) RunTable(ctx context.Context, input, output string) (*mtypes.RunReport, error) {
	start := time.Now()
	records, err := r.tables.ReadRecords(ctx, input)
	if err != nil {
		return nil, err
	}
	report, err := r.svc.Run(ctx, records)
	if err != nil {
		return nil, err
	}
	if err := r.tables.WriteAnnotated(ctx, output, report.Records); err != nil {
		return nil, err
	}
	r.logger.Info("table annotated",
		logging.String("run_id", report.RunID.String()),
		logging.String("input", input),
		logging.String("output", output),
		logging.Int("records", len(report.Records)),
		logging.Duration("duration", time.Since(start)))
	return report, nil
}

// OutputExists reports whether output has already been written.
func (r *TableRunner) OutputExists(ctx context.Context, output string) (bool, error) {
	return r.tables.Exists(ctx, output)
}
