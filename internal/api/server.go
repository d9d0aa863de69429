// Package api exposes the evaluation orchestrator over HTTP: job
// creation and status plus the ad hoc single-question generation path.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/medscale/qgen-eval/internal/dispatch"
	"github.com/medscale/qgen-eval/internal/domain"
	"github.com/medscale/qgen-eval/internal/generation"
	"github.com/medscale/qgen-eval/internal/jobs"
	"github.com/medscale/qgen-eval/internal/scoring"
	"github.com/medscale/qgen-eval/internal/structcheck"
)

// Server routes HTTP requests into the evaluation core.
type Server struct {
	jobs       *jobs.Manager
	dispatcher *dispatch.Dispatcher
	executor   *generation.Executor
	logger     *slog.Logger
}

// NewServer builds the HTTP layer over the assembled stack.
func NewServer(manager *jobs.Manager, dispatcher *dispatch.Dispatcher, executor *generation.Executor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: manager, dispatcher: dispatcher, executor: executor, logger: logger}
}

// Router returns the configured mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/eval/jobs", s.handleStartJob).Methods(http.MethodPost)
	r.HandleFunc("/api/eval/jobs", s.handleListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/eval/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/questions/generate", s.handleGenerateQuestion).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

type startJobRequest struct {
	CountsByDifficulty map[domain.Difficulty]int `json:"counts_by_difficulty"`
	Pipelines          []string                  `json:"pipelines"`
	Topics             []string                  `json:"topics,omitempty"`
	Diversity          domain.DiversityOptions   `json:"diversity,omitempty"`
	Seed               *int64                    `json:"seed,omitempty"`
	UserID             string                    `json:"user_id"`
}

type startJobResponse struct {
	JobID                    string `json:"job_id"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
}

// handleStartJob creates a job and dispatches its first batch. The
// response returns as soon as the first dispatch (or its synchronous
// fallback) settles; the rest of the job continues asynchronously.
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	job, err := s.jobs.CreateJob(r.Context(), req.UserID, domain.JobConfig{
		CountsByDifficulty: req.CountsByDifficulty,
		Pipelines:          req.Pipelines,
		Topics:             req.Topics,
		Diversity:          req.Diversity,
		Seed:               req.Seed,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if err := s.dispatcher.DispatchFirstBatch(r.Context(), job.ID); err != nil {
		// The job exists but cannot make progress; surface that as a
		// job failure rather than leaving it stuck in pending.
		_ = s.jobs.FailJob(r.Context(), job.ID, err.Error())
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startJobResponse{
		JobID:                    job.ID,
		EstimatedDurationSeconds: dispatch.EstimateDurationSeconds(job.Progress.TotalTests, dispatch.DefaultBatchSize),
	})
}

// handleGetJob returns the full job snapshot.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleListJobs returns jobs filtered by status, newest first. Intended
// as a diagnostics surface; status defaults to running.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.JobStatusRunning
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	listed, err := s.jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": listed, "count": len(listed)})
}

type generateQuestionRequest struct {
	Topic      string                  `json:"topic"`
	Difficulty domain.Difficulty       `json:"difficulty"`
	Pipeline   string                  `json:"pipeline"`
	Diversity  domain.DiversityOptions `json:"diversity,omitempty"`
	Seed       *int64                  `json:"seed,omitempty"`
}

type generateQuestionResponse struct {
	Question   *domain.GeneratedArtifact `json:"question"`
	Validation structcheck.Report        `json:"validation"`
	Quality    domain.QualityScore       `json:"quality"`
}

// handleGenerateQuestion runs one ad hoc generation outside any job and
// annotates the artifact with its structural findings and quality
// score.
func (s *Server) handleGenerateQuestion(w http.ResponseWriter, r *http.Request) {
	var req generateQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.DifficultyBasic
	}
	if req.Pipeline == "" {
		req.Pipeline = domain.PipelineFast
	}

	artifact, err := s.executor.ExecuteTest(r.Context(), domain.TestCase{
		Pipeline:   req.Pipeline,
		Topic:      req.Topic,
		Difficulty: req.Difficulty,
		Category:   domain.CategoryForTopic(req.Topic),
		Diversity:  req.Diversity,
		Seed:       req.Seed,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	report := structcheck.Inspect(artifact)
	writeJSON(w, http.StatusOK, generateQuestionResponse{
		Question:   artifact,
		Validation: report,
		Quality:    scoring.ScoreQuestion(artifact, report, req.Difficulty),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps taxonomy codes onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch domain.ClassifyError(err) {
	case domain.CodeValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.CodeTimeout:
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
