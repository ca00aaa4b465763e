package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/api/internal/model"
)

const leadIndexKey = "leads:index"

// RedisStore keeps each lead as a JSON value under lead:<id> plus a set of
// known IDs for listing.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func leadKey(id string) string {
	return fmt.Sprintf("lead:%s", id)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.LeadRecord, error) {
	data, err := s.rdb.Get(ctx, leadKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var lead model.LeadRecord
	if err := json.Unmarshal(data, &lead); err != nil {
		return nil, fmt.Errorf("failed to decode lead %s: %w", id, err)
	}
	return &lead, nil
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]*model.LeadRecord, error) {
	ids, err := s.rdb.SMembers(ctx, leadIndexKey).Result()
	if err != nil {
		return nil, err
	}
	leads := make([]*model.LeadRecord, 0, len(ids))
	for _, id := range ids {
		lead, err := s.Get(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				// Index entry outlived the record; drop it.
				s.rdb.SRem(ctx, leadIndexKey, id)
				continue
			}
			return nil, err
		}
		if f.Matches(lead) {
			leads = append(leads, lead)
		}
	}
	sort.Slice(leads, func(i, j int) bool {
		return leads[i].CreatedAt.Before(leads[j].CreatedAt)
	})
	return leads, nil
}

func (s *RedisStore) Upsert(ctx context.Context, lead *model.LeadRecord) error {
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to encode lead %s: %w", lead.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, leadKey(lead.ID), data, 0)
	pipe.SAdd(ctx, leadIndexKey, lead.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	del := pipe.Del(ctx, leadKey(id))
	pipe.SRem(ctx, leadIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}
