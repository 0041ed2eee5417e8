package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/subsim/internal/application/substructure"
	"github.com/turtacn/subsim/internal/domain/molecule"
	"github.com/turtacn/subsim/pkg/errors"
	"github.com/turtacn/subsim/pkg/types/common"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockService struct {
	mock.Mock
}

func (m *MockService) Run(ctx context.Context, records []mtypes.Record) (*mtypes.RunReport, error) {
	args := m.Called(ctx, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mtypes.RunReport), args.Error(1)
}

func (m *MockService) BuildLibrary(ctx context.Context, records []mtypes.Record) (*molecule.ReferenceLibrary, *substructure.LibraryReport, error) {
	args := m.Called(ctx, records)
	return nil, nil, args.Error(2)
}

func (m *MockService) LoadLibrary(ctx context.Context, records []mtypes.Record) (*substructure.LibraryReport, error) {
	args := m.Called(ctx, records)
	return nil, args.Error(1)
}

func (m *MockService) SetLibrary(lib *molecule.ReferenceLibrary) error {
	return m.Called(lib).Error(0)
}

func (m *MockService) Library() *molecule.ReferenceLibrary { return nil }

func (m *MockService) GetRun(ctx context.Context, id common.ID) (*mtypes.RunReport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mtypes.RunReport), args.Error(1)
}

func (m *MockService) ListRuns(ctx context.Context, limit, offset int) ([]mtypes.RunSummary, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mtypes.RunSummary), args.Error(1)
}

type stubNeighbors struct {
	ids []string
	err error
}

func (s stubNeighbors) Neighbors(_ context.Context, _ string) ([]string, error) {
	return s.ids, s.err
}

func setupRunRouter(h *RunHandler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunHandler_Create_Success(t *testing.T) {
	svc := new(MockService)
	records := []mtypes.Record{{ID: "q1", Name: "ethanol", Notation: "CCO"}}
	report := &mtypes.RunReport{
		RunID:     "run-1",
		Status:    mtypes.RunSucceeded,
		MatchMode: mtypes.MatchShared,
		Records:   []mtypes.AnnotatedRecord{{Record: records[0], Matches: []string{"L1"}}},
		Processed: 1,
		Matched:   1,
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	svc.On("Run", mock.Anything, records).Return(report, nil)

	w := doJSON(t, setupRunRouter(NewRunHandler(svc, nil, 10, nil)), http.MethodPost, "/api/v1/runs", RunRequest{Records: records})

	assert.Equal(t, http.StatusCreated, w.Code)
	var got mtypes.RunReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, common.ID("run-1"), got.RunID)
	require.Len(t, got.Records, 1)
	assert.Equal(t, []string{"L1"}, got.Records[0].Matches)
	svc.AssertExpectations(t)
}

func TestRunHandler_Create_Validation(t *testing.T) {
	svc := new(MockService)
	r := setupRunRouter(NewRunHandler(svc, nil, 2, nil))

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString("{"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty records", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/runs", RunRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too many records", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/runs", RunRequest{Records: []mtypes.Record{
			{ID: "a", Notation: "C"}, {ID: "b", Notation: "C"}, {ID: "c", Notation: "C"},
		}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "max_records=2", resp.Detail)
	})

	svc.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRunHandler_Create_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"no library", errors.New(errors.ErrCodeInvalidLibrary, "no reference library loaded"), http.StatusBadRequest, "SUB_005"},
		{"worker failure masked", errors.New(errors.ErrCodeWorkerFailure, "worker failed").WithDetail("chunk=1"), http.StatusInternalServerError, "SUB_003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("Run", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doJSON(t, setupRunRouter(NewRunHandler(svc, nil, 0, nil)), http.MethodPost, "/api/v1/runs",
				RunRequest{Records: []mtypes.Record{{ID: "q", Notation: "CC"}}})

			assert.Equal(t, tt.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp.Message)
				assert.Empty(t, resp.Detail)
			}
		})
	}
}

func TestRunHandler_Get(t *testing.T) {
	svc := new(MockService)
	svc.On("GetRun", mock.Anything, common.ID("run-1")).Return(&mtypes.RunReport{RunID: "run-1", Status: mtypes.RunSucceeded}, nil)
	svc.On("GetRun", mock.Anything, common.ID("missing")).
		Return(nil, errors.New(errors.ErrCodeRunNotFound, "run not found").WithDetail("missing"))
	r := setupRunRouter(NewRunHandler(svc, nil, 0, nil))

	w := doJSON(t, r, http.MethodGet, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SUB_007", resp.Code)
	assert.Equal(t, "missing", resp.Detail)
}

func TestRunHandler_List_Pagination(t *testing.T) {
	svc := new(MockService)
	svc.On("ListRuns", mock.Anything, 5, 10).Return([]mtypes.RunSummary{{RunID: "r3"}}, nil)
	svc.On("ListRuns", mock.Anything, 20, 0).Return([]mtypes.RunSummary{}, nil)
	r := setupRunRouter(NewRunHandler(svc, nil, 0, nil))

	w := doJSON(t, r, http.MethodGet, "/api/v1/runs?page=3&page_size=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp RunListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Page)
	assert.Equal(t, 5, resp.PageSize)
	require.Len(t, resp.Runs, 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/runs?page=-1&page_size=1000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 20, resp.PageSize)
	svc.AssertExpectations(t)
}

func TestRunHandler_Neighbors(t *testing.T) {
	svc := new(MockService)

	t.Run("not registered without graph", func(t *testing.T) {
		w := doJSON(t, setupRunRouter(NewRunHandler(svc, nil, 0, nil)), http.MethodGet, "/api/v1/molecules/m1/neighbors", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("lists neighbors", func(t *testing.T) {
		h := NewRunHandler(svc, stubNeighbors{ids: []string{"m2", "m3"}}, 0, nil)
		w := doJSON(t, setupRunRouter(h), http.MethodGet, "/api/v1/molecules/m1/neighbors", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var resp NeighborsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "m1", resp.ID)
		assert.Equal(t, []string{"m2", "m3"}, resp.Neighbors)
	})

	t.Run("empty is an empty list", func(t *testing.T) {
		h := NewRunHandler(svc, stubNeighbors{}, 0, nil)
		w := doJSON(t, setupRunRouter(h), http.MethodGet, "/api/v1/molecules/m1/neighbors", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"neighbors":[]`)
	})

	t.Run("graph failure", func(t *testing.T) {
		h := NewRunHandler(svc, stubNeighbors{err: errors.New(errors.ErrCodeGraphDBFailed, "neo4j read failed")}, 0, nil)
		w := doJSON(t, setupRunRouter(h), http.MethodGet, "/api/v1/molecules/m1/neighbors", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
