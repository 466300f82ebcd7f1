package db

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StatusCache provides a TTL-based cache over the latest-per-task PR/CI
// status view, with singleflight coalescing so concurrent status reads
// share one query. The monitor daemon hands it to the reconciler, which
// calls Invalidate after every merge-record write.
type StatusCache struct {
	mu       sync.RWMutex
	byTask   map[string]map[string]TaskPRStatus // project id -> task id -> status
	loadedAt map[string]time.Time
	ttl      time.Duration
	group    singleflight.Group
	db       *DB
}

// NewStatusCache creates a status cache with the given TTL.
func NewStatusCache(d *DB, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &StatusCache{
		byTask:   make(map[string]map[string]TaskPRStatus),
		loadedAt: make(map[string]time.Time),
		ttl:      ttl,
		db:       d,
	}
}

// TaskStatuses returns the cached latest-per-task statuses for a project,
// loading from the database when the cache is stale.
func (c *StatusCache) TaskStatuses(ctx context.Context, projectID string) (map[string]TaskPRStatus, error) {
	c.mu.RLock()
	if statuses, ok := c.byTask[projectID]; ok && time.Since(c.loadedAt[projectID]) < c.ttl {
		c.mu.RUnlock()
		return statuses, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(projectID, func() (any, error) {
		// Double-check after acquiring the singleflight slot.
		c.mu.RLock()
		if statuses, ok := c.byTask[projectID]; ok && time.Since(c.loadedAt[projectID]) < c.ttl {
			c.mu.RUnlock()
			return statuses, nil
		}
		c.mu.RUnlock()

		statuses, err := c.db.LatestPRAndCIByTask(ctx, projectID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.byTask[projectID] = statuses
		c.loadedAt[projectID] = time.Now()
		c.mu.Unlock()

		return statuses, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]TaskPRStatus), nil
}

// Invalidate drops all cached project views. Called after merge records
// change so readers see fresh statuses on the next load.
func (c *StatusCache) Invalidate() {
	c.mu.Lock()
	c.byTask = make(map[string]map[string]TaskPRStatus)
	c.loadedAt = make(map[string]time.Time)
	c.mu.Unlock()
}
