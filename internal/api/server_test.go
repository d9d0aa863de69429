package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscale/qgen-eval/internal/blueprint"
	"github.com/medscale/qgen-eval/internal/dispatch"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/generation"
	"github.com/medscale/qgen-eval/internal/jobs"
	"github.com/medscale/qgen-eval/internal/llm"
)

func newTestServer(t *testing.T) (*Server, *jobs.Manager) {
	t.Helper()
	manager := jobs.NewManager(jobs.NewMemoryStore(), nil)
	strategies := generation.NewDefaultStrategies(llm.NewMockClient(), blueprint.NewSelector(), nil)
	executor := generation.NewExecutor(strategies, nil)

	dispatcher, err := dispatch.NewDispatcher(manager, executor, nil, nil)
	require.NoError(t, err)
	t.Cleanup(dispatcher.Close)
	dispatcher.WithInterBatchDelay(time.Millisecond)

	return NewServer(manager, dispatcher, executor, nil), manager
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw)))
	return rec
}

func TestStartJobEndpoint(t *testing.T) {
	t.Run("accepts a valid config and reports an estimate", func(t *testing.T) {
		server, manager := newTestServer(t)
		router := server.Router()

		rec := postJSON(t, router, "/api/eval/jobs", map[string]any{
			"counts_by_difficulty": map[string]int{"Basic": 1},
			"pipelines":            []string{"fast"},
			"topics":               []string{"Psoriasis"},
			"user_id":              "user-1",
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp struct {
			JobID                    string `json:"job_id"`
			EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.Positive(t, resp.EstimatedDurationSeconds)

		// With no queue configured the first batch ran inline, so the
		// job is already past pending.
		job, err := manager.GetJob(t.Context(), resp.JobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.NotEqual(t, domain.JobStatusPending, job.Status)
	})

	t.Run("captures diversity and seed on the created job", func(t *testing.T) {
		server, manager := newTestServer(t)

		rec := postJSON(t, server.Router(), "/api/eval/jobs", map[string]any{
			"counts_by_difficulty": map[string]int{"Basic": 1},
			"pipelines":            []string{"fast"},
			"topics":               []string{"Psoriasis"},
			"diversity":            map[string]any{"require_image": true},
			"seed":                 7,
			"user_id":              "user-1",
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp struct {
			JobID string `json:"job_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		job, err := manager.GetJob(t.Context(), resp.JobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.True(t, job.Config.Diversity.RequireImage)
		require.NotNil(t, job.Config.Seed)
		assert.Equal(t, int64(7), *job.Config.Seed)
	})

	t.Run("rejects an out-of-range count before creating anything", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := postJSON(t, server.Router(), "/api/eval/jobs", map[string]any{
			"counts_by_difficulty": map[string]int{"Basic": 51},
			"pipelines":            []string{"fast"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown pipeline names", func(t *testing.T) {
		server, _ := newTestServer(t)

		rec := postJSON(t, server.Router(), "/api/eval/jobs", map[string]any{
			"counts_by_difficulty": map[string]int{"Basic": 1},
			"pipelines":            []string{"warp-speed"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJobEndpoint(t *testing.T) {
	server, manager := newTestServer(t)
	router := server.Router()

	job, err := manager.CreateJob(t.Context(), "user-1", domain.JobConfig{
		CountsByDifficulty: map[domain.Difficulty]int{domain.DifficultyBasic: 1},
		Pipelines:          []string{domain.PipelineFast},
		Topics:             []string{"Acne"},
	})
	require.NoError(t, err)

	t.Run("returns the full snapshot", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs/"+job.ID, nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.EvaluationJob
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, 1, got.Progress.TotalTests)
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs/missing", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListJobsEndpoint(t *testing.T) {
	server, manager := newTestServer(t)
	router := server.Router()

	for _, topic := range []string{"Acne", "Melanoma"} {
		_, err := manager.CreateJob(t.Context(), "user-1", domain.JobConfig{
			CountsByDifficulty: map[domain.Difficulty]int{domain.DifficultyBasic: 1},
			Pipelines:          []string{domain.PipelineFast},
			Topics:             []string{topic},
		})
		require.NoError(t, err)
	}

	t.Run("filters by status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs?status=pending", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got struct {
			Jobs  []domain.EvaluationJob `json:"jobs"`
			Count int                    `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, 2, got.Count)
	})

	t.Run("default status has no matches", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":0`)
	})

	t.Run("unknown status is 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs?status=archived", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed limit is 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/eval/jobs?status=pending&limit=many", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGenerateQuestionEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	t.Run("returns an annotated artifact", func(t *testing.T) {
		rec := postJSON(t, router, "/api/questions/generate", map[string]any{
			"topic":      "Psoriasis",
			"difficulty": "Intermediate",
			"pipeline":   "fast",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Question struct {
				Stem    string   `json:"stem"`
				Options []string `json:"options"`
			} `json:"question"`
			Validation struct {
				OptionCountOK bool `json:"option_count_ok"`
			} `json:"validation"`
			Quality struct {
				Overall float64 `json:"overall"`
			} `json:"quality"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Question.Options, 5)
		assert.True(t, resp.Validation.OptionCountOK)
		assert.Greater(t, resp.Quality.Overall, 0.0)
		assert.LessOrEqual(t, resp.Quality.Overall, 100.0)
	})

	t.Run("topic is required", func(t *testing.T) {
		rec := postJSON(t, router, "/api/questions/generate", map[string]any{"pipeline": "fast"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
