package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/storage/memory"
	"github.com/JakeFAU/nsn-sourcing/internal/store"
)

func seededRuns(t *testing.T) (*memory.RunStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	runID := uuid.MustParse("0190d3a4-8c2e-7b1a-9f00-0123456789ab")
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertRunStart(ctx, runID, started))
	require.NoError(t, repo.AddItemCounts(ctx, runID, store.ItemCounts{Complete: 2, Failed: 1}))
	require.NoError(t, repo.UpsertSourceStats(ctx, runID, "dibbs", "ok", 2, started))
	require.NoError(t, repo.UpsertSourceStats(ctx, runID, "dibbs", "timeout", 1, started))
	require.NoError(t, repo.UpsertSourceStats(ctx, runID, "wbparts", "not_found", 3, started))
	require.NoError(t, repo.CompleteRun(ctx, runID, started.Add(time.Minute), store.RunSuccess, nil))
	return repo, runID
}

func runServer(repo store.RunRepository) *Server {
	return NewServer(Deps{Runs: repo, Logger: zap.NewNop()}, config.Config{})
}

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	rec := serve(runServer(repo), httptest.NewRequest(http.MethodGet, "/v1/runs?status=success&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, runID.String(), body.Runs[0].ID)
	require.Equal(t, int64(2), body.Runs[0].Items.Complete)

	rec = serve(runServer(repo), httptest.NewRequest(http.MethodGet, "/v1/runs?status=interrupted", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestRunHandlerBadQueries(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	for _, path := range []string{
		"/v1/runs?status=bogus",
		"/v1/runs?limit=-1",
		"/v1/runs?offset=x",
		"/v1/runs/not-a-uuid",
		"/v1/runs/" + runID.String() + "/sources?limit=0",
	} {
		rec := serve(runServer(repo), httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	rec := serve(runServer(repo), httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"success"`)

	rec = serve(runServer(repo), httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHandlerListRunSources(t *testing.T) {
	t.Parallel()

	repo, runID := seededRuns(t)
	rec := serve(runServer(repo), httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID.String()+"/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sources []sourceDTO `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Sources, 2)
	require.Equal(t, "dibbs", body.Sources[0].Source)
	require.Equal(t, int64(3), body.Sources[0].Calls)
	require.Equal(t, int64(1), body.Sources[0].Timeout)
	require.Equal(t, int64(3), body.Sources[1].NotFound)
}
