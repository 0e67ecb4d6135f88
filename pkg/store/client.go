// Package store adapts the embedded vecgo vector database into the
// similarity index used for leaf diagnosis. Vectors are compared under
// squared Euclidean distance, the single metric used for both indexing and
// querying; a record queried with its own vector therefore comes back as the
// nearest match at distance zero.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/vecgo"
	"github.com/hupe1980/vecgo/metadata"

	"github.com/menta2k/leaf-analyzer/pkg/types"
)

// ErrEmptyIndex is returned when a query runs against a store holding zero
// records. An empty store never yields an empty "successful" result.
var ErrEmptyIndex = errors.New("store: index contains no records")

// StorageError wraps a backend failure during upsert or query. Failures are
// propagated, not retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Client is an adapter over the vecgo flat index. Upserts are idempotent and
// keyed by image identity. Concurrent read-queries are safe; interleaving
// writes with a running batch evaluation is the caller's responsibility.
type Client struct {
	mu  sync.RWMutex
	db  *vecgo.Vecgo[types.ImageRecord]
	ids map[string]uint64
}

// New creates a Client backed by an in-memory exact-search index sized for
// leaf feature vectors.
func New() (*Client, error) {
	db, err := vecgo.Flat[types.ImageRecord](types.VectorDim).
		SquaredL2().
		Build()
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	return &Client{
		db:  db,
		ids: make(map[string]uint64),
	}, nil
}

// Index upserts a record keyed by its ID. Re-indexing the same ID replaces
// the stored vector and metadata instead of creating a duplicate.
func (c *Client) Index(ctx context.Context, rec types.ImageRecord) error {
	if rec.ID == "" {
		return &StorageError{Op: "upsert", Err: errors.New("record ID is empty")}
	}
	if err := rec.Vector.Validate(); err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}

	item := vecgo.VectorWithData[types.ImageRecord]{
		Vector: rec.Vector,
		Data:   rec,
		Metadata: metadata.Metadata{
			"category": metadata.String(rec.Category),
			"source":   metadata.String(rec.Source),
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.ids[rec.ID]; ok {
		if err := c.db.Update(ctx, id, item); err != nil {
			return &StorageError{Op: "upsert", Err: err}
		}
		return nil
	}

	id, err := c.db.Insert(ctx, item)
	if err != nil {
		return &StorageError{Op: "upsert", Err: err}
	}
	c.ids[rec.ID] = id
	return nil
}

// Len returns the number of indexed records.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Query returns up to k neighbor matches ordered by ascending distance.
// Fewer than k matches are returned only when the store holds fewer than k
// records.
func (c *Client) Query(ctx context.Context, vec types.FeatureVector, k int) ([]types.NeighborMatch, error) {
	return c.query(ctx, vec, k, "")
}

// QueryExcluding behaves like Query but filters out the record with the
// given ID, so an indexed image can be evaluated against the rest of the
// corpus without matching itself.
func (c *Client) QueryExcluding(ctx context.Context, vec types.FeatureVector, k int, excludeID string) ([]types.NeighborMatch, error) {
	return c.query(ctx, vec, k, excludeID)
}

func (c *Client) query(ctx context.Context, vec types.FeatureVector, k int, excludeID string) ([]types.NeighborMatch, error) {
	if k <= 0 {
		return nil, &StorageError{Op: "query", Err: fmt.Errorf("k must be positive, got %d", k)}
	}

	c.mu.RLock()
	size := len(c.ids)
	excluded, hasExcluded := c.ids[excludeID]
	c.mu.RUnlock()

	if size == 0 {
		return nil, ErrEmptyIndex
	}

	var optFns []func(o *vecgo.KNNSearchOptions)
	if excludeID != "" && hasExcluded {
		optFns = append(optFns, func(o *vecgo.KNNSearchOptions) {
			o.FilterFunc = func(id uint64) bool { return id != excluded }
		})
	}

	results, err := c.db.KNNSearch(ctx, vec, k, optFns...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}

	matches := make([]types.NeighborMatch, 0, len(results))
	for _, res := range results {
		matches = append(matches, types.NeighborMatch{
			Record:   res.Data,
			Distance: float64(res.Distance),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	return matches, nil
}
