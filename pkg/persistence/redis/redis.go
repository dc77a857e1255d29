// Package redis provides Redis-backed checkpoint persistence. Checkpoints are
// stored as JSON values with a per-workflow sorted-set index keyed by creation
// time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/montageio/montage/pkg/models"
	"github.com/montageio/montage/pkg/persistence"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "montage:checkpoint:"
const indexPrefix = "montage:workflow:"

// Persistence implements checkpoint storage on Redis.
type Persistence struct {
	client *redis.Client
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{client: client}, nil
}

func (p *Persistence) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, checkpointKey(checkpoint.ID), data, 0)
	pipe.ZAdd(ctx, indexKey(checkpoint.WorkflowID), redis.Z{
		Score:  float64(checkpoint.CreatedAt.UnixNano()),
		Member: checkpoint.ID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewCheckpointError("Save", checkpoint.ID, err)
	}

	return nil
}

func (p *Persistence) CheckpointByID(ctx context.Context, id string) (*models.Checkpoint, error) {
	data, err := p.client.Get(ctx, checkpointKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewCheckpointError("ByID", id, persistence.ErrCheckpointNotFound)
		}

		return nil, persistence.NewCheckpointError("ByID", id, err)
	}

	var checkpoint models.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, persistence.NewCheckpointError("ByID", id, err)
	}

	return &checkpoint, nil
}

func (p *Persistence) CheckpointsForWorkflow(ctx context.Context, workflowID string) ([]*models.Checkpoint, error) {
	ids, err := p.client.ZRevRange(ctx, indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, persistence.NewWorkflowCheckpointError("ForWorkflow", workflowID, err)
	}

	checkpoints := make([]*models.Checkpoint, 0, len(ids))

	for _, id := range ids {
		checkpoint, err := p.CheckpointByID(ctx, id)
		if err != nil {
			// Index entries can outlive their value briefly; skip holes.
			if persistence.IsCheckpointNotFound(err) {
				continue
			}

			return nil, err
		}

		checkpoints = append(checkpoints, checkpoint)
	}

	// The sorted set orders ties lexically; re-sort so insertion sequence
	// breaks creation-time ties deterministically.
	sort.Slice(checkpoints, func(i, j int) bool {
		if checkpoints[i].CreatedAt.Equal(checkpoints[j].CreatedAt) {
			return checkpoints[i].Seq > checkpoints[j].Seq
		}

		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})

	return checkpoints, nil
}

func (p *Persistence) DeleteCheckpoint(ctx context.Context, id string) error {
	checkpoint, err := p.CheckpointByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.Del(ctx, checkpointKey(id))
	pipe.ZRem(ctx, indexKey(checkpoint.WorkflowID), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewCheckpointError("Delete", id, err)
	}

	return nil
}

func (p *Persistence) DeleteCheckpointsForWorkflow(ctx context.Context, workflowID string) error {
	ids, err := p.client.ZRange(ctx, indexKey(workflowID), 0, -1).Result()
	if err != nil {
		return persistence.NewWorkflowCheckpointError("DeleteForWorkflow", workflowID, err)
	}

	pipe := p.client.TxPipeline()

	for _, id := range ids {
		pipe.Del(ctx, checkpointKey(id))
	}

	pipe.Del(ctx, indexKey(workflowID))

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewWorkflowCheckpointError("DeleteForWorkflow", workflowID, err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func checkpointKey(id string) string {
	return keyPrefix + id
}

func indexKey(workflowID string) string {
	return indexPrefix + workflowID + ":checkpoints"
}
