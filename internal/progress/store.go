// Package progress keeps the latest snapshot of every tracked job. Store keeps them in
// Redis so that all console instances show the same job progress; Memory serves a
// single process.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/task"
	"github.com/redis/go-redis/v9"
)

const snapshotsKey = "searcheval:jobs"

var ErrNotFound = errors.New("snapshot not found")

type Store struct {
	client *redis.Client
	ctx    context.Context
	log    *logger.Logger
}

func NewStore(redisAddr string, log *logger.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = logger.Default()
	}

	return &Store{
		client: client,
		ctx:    ctx,
		log:    log,
	}, nil
}

func field(view string, kind task.TaskKind) string {
	return view + ":" + string(kind)
}

// Observe saves every snapshot a poller publishes. It satisfies poller.Observer.
func (s *Store) Observe(snap poller.Snapshot) {
	if err := s.Save(snap); err != nil {
		s.log.WithError(err).Warn("failed to store job snapshot",
			"task_kind", string(snap.Kind), "task_id", snap.TaskID)
	}
}

func (s *Store) Save(snap poller.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.HSet(s.ctx, snapshotsKey, field(snap.View, snap.Kind), data).Err()
}

func (s *Store) Get(view string, kind task.TaskKind) (*poller.Snapshot, error) {
	data, err := s.client.HGet(s.ctx, snapshotsKey, field(view, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap poller.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// List returns every stored snapshot ordered by view, then kind. Undecodable entries
// are skipped.
func (s *Store) List() ([]poller.Snapshot, error) {
	entries, err := s.client.HGetAll(s.ctx, snapshotsKey).Result()
	if err != nil {
		return nil, err
	}

	snapshots := make([]poller.Snapshot, 0, len(entries))
	for _, data := range entries {
		var snap poller.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	sortSnapshots(snapshots)
	return snapshots, nil
}

func (s *Store) ListView(view string) ([]poller.Snapshot, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	return filterView(all, view), nil
}

func (s *Store) Delete(view string, kind task.TaskKind) error {
	return s.client.HDel(s.ctx, snapshotsKey, field(view, kind)).Err()
}

// Prune removes snapshots that stopped polling before cutoff and returns how many were
// removed. Jobs still polling are kept regardless of age.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	snapshots, err := s.List()
	if err != nil {
		return 0, err
	}

	var fields []string
	for _, snap := range snapshots {
		if snap.State != poller.StatePolling && snap.UpdatedAt.Before(cutoff) {
			fields = append(fields, field(snap.View, snap.Kind))
		}
	}
	if len(fields) == 0 {
		return 0, nil
	}

	removed, err := s.client.HDel(s.ctx, snapshotsKey, fields...).Result()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// Counts returns the number of stored snapshots by state and kind.
func (s *Store) Counts() (map[poller.State]map[task.TaskKind]int, error) {
	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}
	return countSnapshots(snapshots), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
