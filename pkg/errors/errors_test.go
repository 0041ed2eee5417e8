package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/subsim/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// New / Wrap
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FieldsAreSetCorrectly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    errors.ErrorCode
		message string
	}{
		{"internal error", errors.CodeInternal, "unexpected failure"},
		{"parse error", errors.CodeParseError, "unclosed ring bond"},
		{"graph too large", errors.CodeGraphTooLarge, "31 nodes exceeds limit 24"},
		{"rate limit", errors.CodeRateLimit, "too many requests"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ae := errors.New(tc.code, tc.message)

			require.NotNil(t, ae)
			assert.Equal(t, tc.code, ae.Code)
			assert.Equal(t, tc.message, ae.Message)
			assert.Empty(t, ae.Detail)
			assert.Nil(t, ae.Cause)
			assert.NotEmpty(t, ae.Stack)
		})
	}
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	ae := errors.New(errors.CodeWorkerFailure, "chunk failed")
	assert.Equal(t, "[SUB_003] chunk failed", ae.Error())

	withDetail := ae.WithDetail("range=[10,19]")
	assert.Equal(t, "[SUB_003] chunk failed: range=[10,19]", withDetail.Error())

	withCause := withDetail.WithCause(stderrors.New("boom"))
	assert.Equal(t, "[SUB_003] chunk failed: range=[10,19]: boom", withCause.Error())
}

func TestWithDetail_DoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	orig := errors.New(errors.CodeParseError, "bad notation")
	clone := orig.WithDetailf("pos=%d", 4)

	assert.Empty(t, orig.Detail)
	assert.Equal(t, "pos=4", clone.Detail)

	var nilErr *errors.AppError
	assert.Nil(t, nilErr.WithDetail("x"))
	assert.Nil(t, nilErr.WithCause(stderrors.New("x")))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, errors.Wrap(nil, errors.CodeInternal, "ignored"))
}

func TestWrap_PreservesCodeWhenUnknown(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.CodeGraphTooLarge, "too large")
	outer := errors.Wrap(inner, errors.CodeUnknown, "enumeration refused")

	assert.Equal(t, errors.CodeGraphTooLarge, outer.Code)
	assert.True(t, stderrors.Is(outer, inner))
}

// ─────────────────────────────────────────────────────────────────────────────
// Chain inspection
// ─────────────────────────────────────────────────────────────────────────────

func TestIsCode_TraversesChain(t *testing.T) {
	t.Parallel()

	inner := errors.New(errors.CodeParseError, "bad")
	wrapped := fmt.Errorf("record 3: %w", errors.Wrap(inner, errors.CodeInternal, "build failed"))

	assert.True(t, errors.IsCode(wrapped, errors.CodeParseError))
	assert.True(t, errors.IsCode(wrapped, errors.CodeInternal))
	assert.False(t, errors.IsCode(wrapped, errors.CodeWorkerFailure))
	assert.False(t, errors.IsCode(nil, errors.CodeParseError))
}

func TestIsSkippable(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsSkippable(errors.New(errors.CodeParseError, "x")))
	assert.True(t, errors.IsSkippable(errors.New(errors.CodeGraphTooLarge, "x")))
	assert.False(t, errors.IsSkippable(errors.New(errors.CodeWorkerFailure, "x")))
	assert.False(t, errors.IsSkippable(stderrors.New("plain")))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsNotFound(errors.NotFound("run")))
	assert.True(t, errors.IsNotFound(errors.New(errors.ErrCodeRunNotFound, "run")))
	assert.True(t, errors.IsNotFound(errors.New(errors.ErrCodeObjectNotFound, "object")))
	assert.False(t, errors.IsNotFound(errors.Internal("x")))
}

func TestGetCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeOK, errors.GetCode(nil))
	assert.Equal(t, errors.CodeUnknown, errors.GetCode(stderrors.New("plain")))
	assert.Equal(t, errors.CodeMissingChunkResult,
		errors.GetCode(fmt.Errorf("ctx: %w", errors.New(errors.CodeMissingChunkResult, "gone"))))
}

func TestFactories(t *testing.T) {
	t.Parallel()

	assert.Equal(t, errors.CodeNotFound, errors.NotFound("x").Code)
	assert.Equal(t, errors.CodeInvalidParam, errors.InvalidParam("x").Code)
	assert.Equal(t, errors.CodeInternal, errors.Internal("x").Code)
	assert.Equal(t, errors.CodeRateLimit, errors.RateLimit("x").Code)
	assert.Equal(t, "value 3", errors.Newf(errors.CodeInternal, "value %d", 3).Message)
}
