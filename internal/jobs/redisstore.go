package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medscale/qgen-eval/internal/domain"
)

// Redis key layout per job. Rollups live in a dedicated hash with
// compound field names so every merge is a plain HINCRBY/HINCRBYFLOAT;
// sums are stored rather than means, which makes concurrent batch
// merges order-independent without any read-modify-write.
const (
	jobKeyPrefix    = "qgen:job:"
	statusKeyPrefix = "qgen:jobs:"
)

// setStatusScript transitions a job's status atomically. The caller
// passes the statuses the transition is legal from; anything else
// leaves the record untouched and returns 0.
//
// KEYS[1] = job hash
// KEYS[2] = index set for the new status
// ARGV[1] = new status
// ARGV[2] = updated_at
// ARGV[3..] = statuses the transition is allowed from
var setStatusScript = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], 'status')
	if not cur then return -1 end
	if cur == ARGV[1] then return 1 end
	for i = 3, #ARGV do
		if cur == ARGV[i] then
			redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
			redis.call('SREM', 'qgen:jobs:' .. cur, KEYS[1])
			redis.call('SADD', KEYS[2], KEYS[1])
			return 1
		end
	end
	return 0
`)

// incrCompletedScript increments the completed-test counter, clamped
// to the total so concurrent batches can never overshoot.
//
// KEYS[1] = job hash
// ARGV[1] = delta
// ARGV[2] = updated_at
var incrCompletedScript = redis.NewScript(`
	local total = tonumber(redis.call('HGET', KEYS[1], 'total_tests') or '-1')
	if total < 0 then return {-1, -1} end
	local cur = tonumber(redis.call('HGET', KEYS[1], 'completed_tests') or '0')
	local new = cur + tonumber(ARGV[1])
	if new > total then new = total end
	redis.call('HSET', KEYS[1], 'completed_tests', new, 'updated_at', ARGV[2])
	return {new, total}
`)

// RedisStore is the production Store: one small hash per job plus
// append-only lists for error records, mutated exclusively through
// atomic increments and guarded Lua scripts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func jobKey(id string) string            { return jobKeyPrefix + id }
func resultsKey(id string) string        { return jobKey(id) + ":results" }
func errorsKey(id string) string         { return jobKey(id) + ":errors" }
func tasksKey(id string) string          { return jobKey(id) + ":tasks" }
func failuresKey(id, pipe string) string { return jobKey(id) + ":failures:" + pipe }
func statusKey(s domain.JobStatus) string {
	return statusKeyPrefix + string(s)
}

// Create persists the job record and indexes it under its status.
func (s *RedisStore) Create(ctx context.Context, job *domain.EvaluationJob) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	key := jobKey(job.ID)
	created, err := s.client.HSetNX(ctx, key, "id", job.ID).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	if !created {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(job.Status),
		"config", config,
		"created_by", job.CreatedBy,
		"created_at", job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", job.UpdatedAt.Format(time.RFC3339Nano),
		"total_tests", job.Progress.TotalTests,
		"completed_tests", job.Progress.CompletedTests,
	)
	pipe.SAdd(ctx, statusKey(job.Status), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// SetStatus runs the transition script with the legal predecessor set
// derived from the lifecycle rules.
func (s *RedisStore) SetStatus(ctx context.Context, id string, status domain.JobStatus) error {
	allowedFrom := make([]any, 0, 4)
	for _, from := range []domain.JobStatus{
		domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusRunning,
	} {
		if from.CanTransitionTo(status) {
			allowedFrom = append(allowedFrom, string(from))
		}
	}

	argv := append([]any{string(status), now()}, allowedFrom...)
	res, err := setStatusScript.Run(ctx, s.client, []string{jobKey(id), statusKey(status)}, argv...).Int()
	if err != nil {
		return fmt.Errorf("set status of job %s: %w", id, err)
	}
	switch res {
	case -1:
		return domain.ErrJobNotFound
	case 0:
		return fmt.Errorf("%w: cannot move job %s to %s", domain.ErrJobTerminal, id, status)
	}
	return nil
}

// IncrementCompleted applies the clamped counter script and publishes
// the optional cursor.
func (s *RedisStore) IncrementCompleted(ctx context.Context, id string, delta int, cursor *ProgressCursor) (int, int, error) {
	vals, err := incrCompletedScript.Run(ctx, s.client, []string{jobKey(id)}, delta, now()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("increment progress of job %s: %w", id, err)
	}
	if len(vals) != 2 || vals[0] < 0 {
		return 0, 0, domain.ErrJobNotFound
	}

	if cursor != nil {
		s.client.HSet(ctx, jobKey(id),
			"current_pipeline", cursor.Pipeline,
			"current_topic", cursor.Topic,
			"current_difficulty", string(cursor.Difficulty),
		)
	}
	return int(vals[0]), int(vals[1]), nil
}

// MergeResults folds the delta as a batch of field increments. Sums
// commute, so interleaved merges from concurrent batches are all
// reflected regardless of order.
func (s *RedisStore) MergeResults(ctx context.Context, id string, delta *domain.ResultsDelta) error {
	if delta.Empty() {
		return nil
	}

	key := resultsKey(id)
	pipe := s.client.TxPipeline()

	for name, pd := range delta.Pipelines {
		pipe.HIncrBy(ctx, key, "p:"+name+":tests", int64(pd.Tests))
		pipe.HIncrBy(ctx, key, "p:"+name+":successes", int64(pd.Successes))
		pipe.HIncrByFloat(ctx, key, "p:"+name+":latency_sum", pd.LatencySum)
		pipe.HIncrByFloat(ctx, key, "p:"+name+":quality_sum", pd.QualitySum)
		for _, failure := range pd.Failures {
			raw, err := json.Marshal(failure)
			if err != nil {
				return fmt.Errorf("encode failure entry: %w", err)
			}
			pipe.RPush(ctx, failuresKey(id, name), raw)
		}
	}
	for name, cd := range delta.Categories {
		pipe.HIncrBy(ctx, key, "c:"+name+":tests", int64(cd.Tests))
		pipe.HIncrBy(ctx, key, "c:"+name+":successes", int64(cd.Successes))
		pipe.HIncrByFloat(ctx, key, "c:"+name+":quality_sum", cd.QualitySum)
	}
	for _, entry := range delta.Errors {
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode error entry: %w", err)
		}
		pipe.RPush(ctx, errorsKey(id), raw)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("merge results of job %s: %w", id, err)
	}
	return nil
}

// AppendError appends one record to the append-only error list.
func (s *RedisStore) AppendError(ctx context.Context, id string, entry domain.ErrorEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode error entry: %w", err)
	}
	if err := s.client.RPush(ctx, errorsKey(id), raw).Err(); err != nil {
		return fmt.Errorf("append error to job %s: %w", id, err)
	}
	return nil
}

// AddTaskID records the task id with native set semantics.
func (s *RedisStore) AddTaskID(ctx context.Context, id, taskID string) (bool, error) {
	added, err := s.client.SAdd(ctx, tasksKey(id), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("record task for job %s: %w", id, err)
	}
	return added == 1, nil
}

// SetOverall stores the finalized aggregate metrics on the job hash.
func (s *RedisStore) SetOverall(ctx context.Context, id string, overall *domain.OverallMetrics) error {
	raw, err := json.Marshal(overall)
	if err != nil {
		return fmt.Errorf("encode overall metrics: %w", err)
	}
	if err := s.client.HSet(ctx, jobKey(id), "overall", raw, "updated_at", now()).Err(); err != nil {
		return fmt.Errorf("set overall of job %s: %w", id, err)
	}
	return nil
}

// SetFailure records the fatal error message.
func (s *RedisStore) SetFailure(ctx context.Context, id, message string) error {
	if err := s.client.HSet(ctx, jobKey(id), "error", message, "updated_at", now()).Err(); err != nil {
		return fmt.Errorf("set failure of job %s: %w", id, err)
	}
	return nil
}

// Get materializes the full job document from its hash, rollup fields,
// and error lists.
func (s *RedisStore) Get(ctx context.Context, id string) (*domain.EvaluationJob, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrJobNotFound
	}

	job := &domain.EvaluationJob{
		ID:        fields["id"],
		Status:    domain.JobStatus(fields["status"]),
		CreatedBy: fields["created_by"],
		Error:     fields["error"],
		Results:   domain.NewJobResults(),
	}
	if err := json.Unmarshal([]byte(fields["config"]), &job.Config); err != nil {
		return nil, fmt.Errorf("decode config of job %s: %w", id, err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	job.Progress.TotalTests, _ = strconv.Atoi(fields["total_tests"])
	job.Progress.CompletedTests, _ = strconv.Atoi(fields["completed_tests"])
	job.Progress.CurrentPipeline = fields["current_pipeline"]
	job.Progress.CurrentTopic = fields["current_topic"]
	job.Progress.CurrentDifficulty = domain.Difficulty(fields["current_difficulty"])

	if raw, ok := fields["overall"]; ok && raw != "" {
		var overall domain.OverallMetrics
		if err := json.Unmarshal([]byte(raw), &overall); err != nil {
			return nil, fmt.Errorf("decode overall of job %s: %w", id, err)
		}
		job.Results.Overall = &overall
	}

	if err := s.loadRollups(ctx, id, job); err != nil {
		return nil, err
	}

	job.TaskIDs, err = s.client.SMembers(ctx, tasksKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks of job %s: %w", id, err)
	}

	rawErrors, err := s.client.LRange(ctx, errorsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load errors of job %s: %w", id, err)
	}
	for _, raw := range rawErrors {
		var entry domain.ErrorEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue // a corrupt log entry must not hide the job
		}
		job.Results.Errors = append(job.Results.Errors, entry)
	}

	return job, nil
}

// loadRollups reconstructs pipeline and category results from the
// stored sums.
func (s *RedisStore) loadRollups(ctx context.Context, id string, job *domain.EvaluationJob) error {
	fields, err := s.client.HGetAll(ctx, resultsKey(id)).Result()
	if err != nil {
		return fmt.Errorf("load rollups of job %s: %w", id, err)
	}

	type sums struct {
		tests, successes       int
		latencySum, qualitySum float64
	}
	pipelines := make(map[string]*sums)
	categories := make(map[string]*sums)

	for field, value := range fields {
		parts := strings.SplitN(field, ":", 3)
		if len(parts) != 3 {
			continue
		}
		var bucket map[string]*sums
		switch parts[0] {
		case "p":
			bucket = pipelines
		case "c":
			bucket = categories
		default:
			continue
		}
		entry := bucket[parts[1]]
		if entry == nil {
			entry = &sums{}
			bucket[parts[1]] = entry
		}
		switch parts[2] {
		case "tests":
			entry.tests, _ = strconv.Atoi(value)
		case "successes":
			entry.successes, _ = strconv.Atoi(value)
		case "latency_sum":
			entry.latencySum, _ = strconv.ParseFloat(value, 64)
		case "quality_sum":
			entry.qualitySum, _ = strconv.ParseFloat(value, 64)
		}
	}

	for name, e := range pipelines {
		pr := &domain.PipelineResult{TotalTests: e.tests, SuccessCount: e.successes}
		if e.tests > 0 {
			pr.SuccessRate = float64(e.successes) / float64(e.tests)
		}
		if e.successes > 0 {
			pr.AvgLatencyMS = e.latencySum / float64(e.successes)
			pr.AvgQuality = e.qualitySum / float64(e.successes)
		}

		rawFailures, err := s.client.LRange(ctx, failuresKey(id, name), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("load failures of job %s pipeline %s: %w", id, name, err)
		}
		for _, raw := range rawFailures {
			var entry domain.ErrorEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				continue
			}
			pr.Failures = append(pr.Failures, entry)
		}
		job.Results.ByPipeline[name] = pr
	}

	for name, e := range categories {
		cr := &domain.CategoryResult{Category: name, TotalTests: e.tests, SuccessCount: e.successes}
		if e.successes > 0 {
			cr.AvgQuality = e.qualitySum / float64(e.successes)
		}
		job.Results.ByCategory[name] = cr
	}

	return nil
}

// ListByStatus reads the status index set and materializes each member.
func (s *RedisStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.EvaluationJob, error) {
	keys, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}

	var matched []*domain.EvaluationJob
	for _, key := range keys {
		id := strings.TrimPrefix(key, jobKeyPrefix)
		job, err := s.Get(ctx, id)
		if err != nil {
			continue // index may briefly lead the record during transitions
		}
		if job.Status != status {
			continue
		}
		matched = append(matched, job)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
