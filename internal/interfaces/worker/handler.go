// Package worker turns run request messages into table runs.
package worker

import (
	"context"
	"time"

	"github.com/turtacn/subsim/internal/application/substructure"
	"github.com/turtacn/subsim/internal/infrastructure/database/redis"
	"github.com/turtacn/subsim/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/subsim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// Runner executes one table run.
type Runner interface {
	RunTable(ctx context.Context, input, output string) (*mtypes.RunReport, error)
	Service() substructure.Service
}

// Claim is an exclusive hold on a request id.  Complete keeps the id taken
// after a successful run; Release frees it for another attempt.
type Claim interface {
	Release(ctx context.Context) error
	Complete(ctx context.Context) error
}

// Claimer hands out claims.  TryClaim returns a nil Claim when another
// worker holds the id.
type Claimer interface {
	TryClaim(ctx context.Context, name string) (Claim, error)
}

// RedisClaims adapts a redis Claimer.
func RedisClaims(c *redis.Claimer) Claimer {
	return redisClaims{c}
}

type redisClaims struct{ c *redis.Claimer }

func (r redisClaims) TryClaim(ctx context.Context, name string) (Claim, error) {
	cl, err := r.c.TryClaim(ctx, name)
	if err != nil || cl == nil {
		return nil, err
	}
	return cl, nil
}

// RequestHandler consumes run.requested events.
type RequestHandler struct {
	runner  Runner
	claims  Claimer
	logger  logging.Logger
	timeout time.Duration
}

// HandlerOption configures a RequestHandler.
type HandlerOption func(*RequestHandler)

// WithClaimer deduplicates requests across workers.
func WithClaimer(c Claimer) HandlerOption { return func(h *RequestHandler) { h.claims = c } }

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) HandlerOption { return func(h *RequestHandler) { h.timeout = d } }

// NewRequestHandler creates a handler running requests through runner.
func NewRequestHandler(runner Runner, log logging.Logger, opts ...HandlerOption) *RequestHandler {
	if log == nil {
		log = logging.NewNopLogger()
	}
	h := &RequestHandler{runner: runner, logger: log.Named("worker")}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle processes one message.  Other event types are ignored.  A request
// claimed by another worker, or completed within the claimer's completed
// TTL, is acknowledged without running.
func (h *RequestHandler) Handle(ctx context.Context, msg *common.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventRunRequested {
		h.logger.Debug("ignoring event", logging.String("event_type", env.EventType), logging.String("event_id", env.EventID))
		return nil
	}

	var req kafka.RunRequestedPayload
	if err := env.DecodePayload(&req); err != nil {
		return err
	}
	if err := h.validate(req); err != nil {
		return err
	}
	if req.RequestID == "" {
		req.RequestID = env.EventID
	}
	log := h.logger.With(logging.String("request_id", req.RequestID), logging.String("input", req.Input))

	if h.claims != nil {
		claim, err := h.claims.TryClaim(ctx, req.RequestID)
		if err != nil {
			return err
		}
		if claim == nil {
			log.Info("run request already claimed or completed")
			return nil
		}
		completed := false
		defer func() {
			settle := context.WithoutCancel(ctx)
			if completed {
				if err := claim.Complete(settle); err != nil {
					log.Warn("failed to mark run request completed", logging.Err(err))
				}
				return
			}
			if err := claim.Release(settle); err != nil {
				log.Warn("failed to release run claim", logging.Err(err))
			}
		}()
		err = h.run(ctx, log, req)
		completed = err == nil
		return err
	}
	return h.run(ctx, log, req)
}

func (h *RequestHandler) run(ctx context.Context, log logging.Logger, req kafka.RunRequestedPayload) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	report, err := h.runner.RunTable(ctx, req.Input, req.Output)
	if err != nil {
		log.Error("requested run failed", logging.Err(err))
		return err
	}
	log.Info("requested run completed",
		logging.String("run_id", report.RunID.String()),
		logging.Int("processed", report.Processed),
		logging.Int("matched", report.Matched))
	return nil
}

func (h *RequestHandler) validate(req kafka.RunRequestedPayload) error {
	if req.Input == "" {
		return errors.New(errors.ErrCodeValidation, "run request without input").WithDetail(req.RequestID)
	}
	if req.MatchMode == "" {
		return nil
	}
	mode := mtypes.MatchMode(req.MatchMode)
	if !mode.Valid() {
		return errors.New(errors.ErrCodeInvalidMatchMode, "unknown match mode").WithDetail(req.MatchMode)
	}
	if lib := h.runner.Service().Library(); lib != nil && lib.Mode() != mode {
		return errors.New(errors.ErrCodeInvalidMatchMode, "match mode differs from loaded library").
			WithDetailf("requested=%s library=%s", mode, lib.Mode())
	}
	return nil
}
