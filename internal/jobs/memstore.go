package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medscale/qgen-eval/internal/domain"
)

// MemoryStore is the in-process Store used by tests and single-node
// development runs. Every mutation holds the store lock, giving the
// same increment/merge guarantees the Redis store provides.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.EvaluationJob
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*domain.EvaluationJob)}
}

// Create persists a new job record.
func (s *MemoryStore) Create(_ context.Context, job *domain.EvaluationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get returns a deep copy so callers can never mutate stored state
// behind the lock's back.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// SetStatus transitions the job, enforcing lifecycle legality.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == status {
		return nil
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrJobTerminal, job.Status, status)
	}
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementCompleted applies the clamped progress increment.
func (s *MemoryStore) IncrementCompleted(_ context.Context, id string, delta int, cursor *ProgressCursor) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return 0, 0, domain.ErrJobNotFound
	}

	job.Progress.CompletedTests += delta
	if job.Progress.CompletedTests > job.Progress.TotalTests {
		job.Progress.CompletedTests = job.Progress.TotalTests
	}
	if cursor != nil {
		job.Progress.CurrentPipeline = cursor.Pipeline
		job.Progress.CurrentTopic = cursor.Topic
		job.Progress.CurrentDifficulty = cursor.Difficulty
	}
	job.UpdatedAt = time.Now().UTC()
	return job.Progress.CompletedTests, job.Progress.TotalTests, nil
}

// MergeResults folds the delta under the lock.
func (s *MemoryStore) MergeResults(_ context.Context, id string, delta *domain.ResultsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	domain.MergeDelta(job.Results, delta)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendError appends to the job's error log.
func (s *MemoryStore) AppendError(_ context.Context, id string, entry domain.ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Results.Errors = append(job.Results.Errors, entry)
	return nil
}

// AddTaskID records a dispatched task id with set semantics.
func (s *MemoryStore) AddTaskID(_ context.Context, id, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	for _, existing := range job.TaskIDs {
		if existing == taskID {
			return false, nil
		}
	}
	job.TaskIDs = append(job.TaskIDs, taskID)
	return true, nil
}

// SetOverall stores the finalized aggregate metrics.
func (s *MemoryStore) SetOverall(_ context.Context, id string, overall *domain.OverallMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	clone := *overall
	job.Results.Overall = &clone
	return nil
}

// SetFailure records the fatal error message.
func (s *MemoryStore) SetFailure(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Error = message
	return nil
}

// ListByStatus returns matching jobs newest first.
func (s *MemoryStore) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]*domain.EvaluationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.EvaluationJob
	for _, job := range s.jobs {
		if job.Status == status {
			matched = append(matched, cloneJob(job))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// cloneJob deep-copies through JSON; job documents are small and this
// sidesteps hand-maintained copy code drifting from the struct.
func cloneJob(job *domain.EvaluationJob) *domain.EvaluationJob {
	raw, err := json.Marshal(job)
	if err != nil {
		panic(fmt.Sprintf("clone job %s: %v", job.ID, err))
	}
	var clone domain.EvaluationJob
	if err := json.Unmarshal(raw, &clone); err != nil {
		panic(fmt.Sprintf("clone job %s: %v", job.ID, err))
	}
	if clone.Results == nil {
		clone.Results = domain.NewJobResults()
	}
	if clone.Results.ByPipeline == nil {
		clone.Results.ByPipeline = make(map[string]*domain.PipelineResult)
	}
	if clone.Results.ByCategory == nil {
		clone.Results.ByCategory = make(map[string]*domain.CategoryResult)
	}
	return &clone
}
