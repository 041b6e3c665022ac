package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/inframind/platform/internal/metrics"
)

// MemStore is an in-memory Store used by tests and as the default backend
// when no Mongo URI is configured. Documents pass through the same bson
// encoding as the Mongo implementation so filter semantics stay aligned.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]*memCollection)}
}

// Collection returns the named collection, creating it on first use.
func (s *MemStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{name: name}
		s.collections[name] = c
	}
	return c
}

// Ping always succeeds for the in-memory store.
func (s *MemStore) Ping(ctx context.Context) error { return nil }

type memCollection struct {
	mu   sync.RWMutex
	name string
	docs []Document
}

func (c *memCollection) InsertOne(ctx context.Context, doc any) error {
	d, err := toDocument(doc)
	if err != nil {
		return err
	}
	metrics.StoreOperations.WithLabelValues(c.name, "insert_one").Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, d)
	return nil
}

func (c *memCollection) Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "find").Inc()
	c.mu.RLock()
	var out []Document
	for _, d := range c.docs {
		if matches(d, filter) {
			out = append(out, cloneDocument(d))
		}
	}
	c.mu.RUnlock()

	if opts != nil && opts.SortField != "" {
		field, desc := opts.SortField, opts.SortDesc
		sort.SliceStable(out, func(i, j int) bool {
			cmp := compare(out[i][field], out[j][field])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	if opts != nil && opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (c *memCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "find_one").Inc()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.docs {
		if matches(d, filter) {
			return cloneDocument(d), nil
		}
	}
	return nil, ErrNotFound
}

func (c *memCollection) UpdateOne(ctx context.Context, filter Filter, set Document) error {
	metrics.StoreOperations.WithLabelValues(c.name, "update_one").Inc()
	norm, err := toDocument(set)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if matches(d, filter) {
			for k, v := range norm {
				d[k] = v
			}
			return nil
		}
	}
	return ErrNotFound
}

func (c *memCollection) ReplaceOne(ctx context.Context, filter Filter, doc any, upsert bool) error {
	metrics.StoreOperations.WithLabelValues(c.name, "replace_one").Inc()
	d, err := toDocument(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.docs {
		if matches(existing, filter) {
			c.docs[i] = d
			return nil
		}
	}
	if upsert {
		c.docs = append(c.docs, d)
		return nil
	}
	return ErrNotFound
}

func (c *memCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "delete_many").Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var deleted int64
	for _, d := range c.docs {
		if matches(d, filter) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return deleted, nil
}

func (c *memCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	metrics.StoreOperations.WithLabelValues(c.name, "count").Inc()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, d := range c.docs {
		if matches(d, filter) {
			n++
		}
	}
	return n, nil
}

// toDocument normalizes any value into a Document via the shared bson
// encoding, then rewrites bson-specific types into plain Go values so filter
// comparison does not depend on the driver's wire types.
func toDocument(v any) (Document, error) {
	var doc Document
	if d, ok := v.(Document); ok {
		doc = d
	} else {
		var err error
		doc, err = Encode(v)
		if err != nil {
			return nil, err
		}
	}
	out := make(Document, len(doc))
	for k, val := range doc {
		out[k] = normalize(val)
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC()
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case Document:
		out := make(Document, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case primitive.M:
		out := make(Document, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case int:
		return int64(x)
	case int32:
		return int64(x)
	default:
		return v
	}
}

func cloneDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// matches evaluates a filter against a document. Nested maps with operator
// keys apply comparisons; everything else is equality.
func matches(doc Document, filter Filter) bool {
	for field, cond := range filter {
		val, present := doc[field]
		switch c := cond.(type) {
		case map[string]any:
			if isOperatorMap(c) {
				if !matchOperators(val, present, c) {
					return false
				}
				continue
			}
			if !present || compare(val, normalize(c)) != 0 {
				return false
			}
		default:
			if !present || compare(val, normalize(cond)) != 0 {
				return false
			}
		}
	}
	return true
}

func isOperatorMap(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func matchOperators(val any, present bool, ops map[string]any) bool {
	for op, operand := range ops {
		operand = normalize(operand)
		switch op {
		case "$eq":
			if !present || compare(val, operand) != 0 {
				return false
			}
		case "$ne":
			if present && compare(val, operand) == 0 {
				return false
			}
		case "$gt":
			if !present || compare(val, operand) <= 0 {
				return false
			}
		case "$gte":
			if !present || compare(val, operand) < 0 {
				return false
			}
		case "$lt":
			if !present || compare(val, operand) >= 0 {
				return false
			}
		case "$lte":
			if !present || compare(val, operand) > 0 {
				return false
			}
		case "$in":
			list, ok := operand.([]any)
			if !ok || !present {
				return false
			}
			found := false
			for _, e := range list {
				if compare(val, e) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders two normalized values. Mixed numeric widths compare as
// float64; times compare chronologically; everything else falls back to
// string equality ordering.
func compare(a, b any) int {
	a, b = normalize(a), normalize(b)

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	if a == nil && b == nil {
		return 0
	}
	return -1
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}
