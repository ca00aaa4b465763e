package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/api/internal/model"
)

// ErrJobNotFound is returned when no run exists under the requested ID.
var ErrJobNotFound = errors.New("job not found")

const jobRetention = 24 * time.Hour

// JobStore persists job runs and their append-only event lists.
type JobStore interface {
	Save(ctx context.Context, run *model.JobRun) error
	Get(ctx context.Context, id string) (*model.JobRun, error)
	AppendEvent(ctx context.Context, id string, ev model.ProgressEvent) error
	Events(ctx context.Context, id string) ([]model.ProgressEvent, error)
}

// RedisJobStore keeps the run under job:<id> and its events in a list under
// job:events:<id>, both with a retention window.
type RedisJobStore struct {
	rdb *redis.Client
}

func NewRedisJobStore(rdb *redis.Client) *RedisJobStore {
	return &RedisJobStore{rdb: rdb}
}

func (s *RedisJobStore) Save(ctx context.Context, run *model.JobRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", run.ID, err)
	}
	return s.rdb.Set(ctx, fmt.Sprintf("job:%s", run.ID), data, jobRetention).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.JobRun, error) {
	data, err := s.rdb.Get(ctx, fmt.Sprintf("job:%s", id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var run model.JobRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &run, nil
}

func (s *RedisJobStore) AppendEvent(ctx context.Context, id string, ev model.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	key := fmt.Sprintf("job:events:%s", id)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, jobRetention)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisJobStore) Events(ctx context.Context, id string) ([]model.ProgressEvent, error) {
	rows, err := s.rdb.LRange(ctx, fmt.Sprintf("job:events:%s", id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]model.ProgressEvent, 0, len(rows))
	for _, row := range rows {
		var ev model.ProgressEvent
		if err := json.Unmarshal([]byte(row), &ev); err != nil {
			continue // tolerate a corrupt entry, same as the stream decoder
		}
		events = append(events, ev)
	}
	return events, nil
}

// MemoryJobStore backs tests and the no-redis fallback mode.
type MemoryJobStore struct {
	mu     sync.RWMutex
	runs   map[string]model.JobRun
	events map[string][]model.ProgressEvent
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		runs:   make(map[string]model.JobRun),
		events: make(map[string][]model.ProgressEvent),
	}
}

func (s *MemoryJobStore) Save(ctx context.Context, run *model.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := run
	return &cp, nil
}

func (s *MemoryJobStore) AppendEvent(ctx context.Context, id string, ev model.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = append(s.events[id], ev)
	return nil
}

func (s *MemoryJobStore) Events(ctx context.Context, id string) ([]model.ProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]model.ProgressEvent, len(s.events[id]))
	copy(events, s.events[id])
	return events, nil
}
