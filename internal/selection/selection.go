// Package selection tracks a user selection over occurrences and turns it
// into batched deletes against the owning collections.
package selection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	appLog "appdate/internal/log"
	"appdate/internal/model"
	"appdate/internal/store"
)

// DefaultMaxBatch is the chunk size used for batched deletes.
const DefaultMaxBatch = 400

var ErrPartialDelete = errors.New("some deletes failed")

// Deleter is the part of the event store the controller writes to.
type Deleter interface {
	DeleteBatch(ctx context.Context, c model.Collection, ids []string) error
}

// Controller holds the selection state. It is safe for concurrent use.
type Controller struct {
	mu       sync.Mutex
	active   bool
	selected map[string]struct{}
	maxBatch int
}

// New returns a controller that chunks deletes to maxBatch ids. Values
// below 1 select DefaultMaxBatch; values above store.MaxBatchOps are capped.
func New(maxBatch int) *Controller {
	if maxBatch < 1 {
		maxBatch = DefaultMaxBatch
	}
	maxBatch = min(maxBatch, store.MaxBatchOps)
	return &Controller{
		selected: make(map[string]struct{}),
		maxBatch: maxBatch,
	}
}

// SetMode turns selection mode on or off. Leaving the mode clears the
// selection.
func (c *Controller) SetMode(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = on
	if !on {
		clear(c.selected)
	}
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Toggle flips id and reports whether it is selected afterwards.
func (c *Controller) Toggle(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.selected[id]; ok {
		delete(c.selected, id)
		return false
	}
	c.selected[id] = struct{}{}
	return true
}

func (c *Controller) Select(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.selected[id] = struct{}{}
	}
}

func (c *Controller) Deselect(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.selected, id)
	}
}

func (c *Controller) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.selected[id]
	return ok
}

func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.selected)
}

// Selected returns the selected ids in sorted order.
func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.selected))
	for id := range c.selected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.selected)
}

// Result reports the outcome of CommitDelete.
type Result struct {
	Succeeded []string
	Failed    []string
	// Unresolved lists ids that matched no raw event in either collection.
	// Nothing is sent for them.
	Unresolved []string
	Chunks     int
	errs       []error
}

// Err returns nil if every resolved id was deleted, otherwise an error
// wrapping ErrPartialDelete and the chunk errors.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return errors.Join(append([]error{
		fmt.Errorf("%w: %d of %d", ErrPartialDelete, len(r.Failed), len(r.Failed)+len(r.Succeeded)),
	}, r.errs...)...)
}

// CommitDelete deletes the selected raw events. Each id is resolved against
// snap to find its collection; manual deletes are sent before synced ones,
// in chunks of at most the configured size, strictly one after another. A
// failing chunk marks its ids failed and the remaining chunks still run.
// Once every chunk has run the committed ids leave the selection whatever
// the outcome; ids selected while the commit ran stay selected.
func (c *Controller) CommitDelete(ctx context.Context, d Deleter, snap model.Snapshot) Result {
	ids := c.Selected()

	var res Result
	parts := make(map[model.Collection][]string, len(model.Collections))
	for _, id := range ids {
		_, coll, ok := snap.Find(id)
		if !ok {
			res.Unresolved = append(res.Unresolved, id)
			continue
		}
		parts[coll] = append(parts[coll], id)
	}

	for _, coll := range model.Collections {
		for _, chunk := range store.Chunks(parts[coll], c.maxBatch) {
			res.Chunks++
			if err := ctx.Err(); err != nil {
				res.Failed = append(res.Failed, chunk...)
				res.errs = append(res.errs, err)
				continue
			}
			if err := d.DeleteBatch(ctx, coll, chunk); err != nil {
				appLog.Error("batch delete failed", err, "collection", coll, "ids", len(chunk))
				res.Failed = append(res.Failed, chunk...)
				res.errs = append(res.errs, fmt.Errorf("delete %d from %s: %w", len(chunk), coll, err))
				continue
			}
			res.Succeeded = append(res.Succeeded, chunk...)
		}
	}
	c.Deselect(ids...)

	appLog.Info("selection delete committed",
		"succeeded", len(res.Succeeded),
		"failed", len(res.Failed),
		"unresolved", len(res.Unresolved),
		"chunks", res.Chunks,
	)
	return res
}
