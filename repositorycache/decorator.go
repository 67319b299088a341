package repositorycache

import (
	"context"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
	"github.com/goliatone/go-coherent-cache/domaincache"
)

// Interface assertion to ensure CachedRepository implements Repository[T]
var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult wraps the tuple result from List operations for caching
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// Option configures a CachedRepository.
type Option func(*settings)

type settings struct {
	domain  domaincache.Domain
	channel broadcast.Channel
	logger  *zap.Logger
}

// WithDomain overrides the key layout derived by DomainFor. Set ScopeField
// to have listings invalidated per owner instead of per collection.
func WithDomain(d domaincache.Domain) Option {
	return func(s *settings) {
		s.domain = d
	}
}

// WithChannel broadcasts every successful write and applies writes made by
// other instances.
func WithChannel(ch broadcast.Channel) Option {
	return func(s *settings) {
		s.channel = ch
	}
}

// WithLogger sets the logger for cache failures. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// CachedRepository decorates a base repository with read-through caching and
// write invalidation. Every method not overridden here goes straight to the
// base repository, transactional reads included.
//
// Cached reads:
//   - GetByID without criteria: <entity>:<id>
//   - Get, List and Count without criteria: <collection>:_[:one|:count]
//   - Get, List and Count with criteria and a WithScope context:
//     <collection>:<scope>[:qualifiers][:one|:count]
//
// Successful writes call Mutated on the domain facade, so local entries are
// gone and remote instances notified before the write returns.
type CachedRepository[T any] struct {
	repository.Repository[T]

	domain  domaincache.Domain
	records *domaincache.Facade[T]
	lists   *domaincache.Facade[listResult[T]]
	counts  *domaincache.Facade[int]
	logger  *zap.Logger
}

// New creates a new CachedRepository that wraps the base repository with caching
func New[T any](base repository.Repository[T], manager *cache.Manager, opts ...Option) (*CachedRepository[T], error) {
	if base == nil {
		return nil, fmt.Errorf("repositorycache: base repository cannot be nil")
	}

	s := settings{domain: DomainFor[T](), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}
	logger := s.logger.With(zap.String("repository", s.domain.Collection))

	records, err := domaincache.New[T](manager, s.domain, domaincache.WithChannel(s.channel), domaincache.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	lists, err := domaincache.New[listResult[T]](manager, s.domain, domaincache.WithLogger(logger))
	if err != nil {
		_ = records.Close()
		return nil, err
	}
	counts, err := domaincache.New[int](manager, s.domain, domaincache.WithLogger(logger))
	if err != nil {
		_ = records.Close()
		_ = lists.Close()
		return nil, err
	}

	return &CachedRepository[T]{
		Repository: base,
		domain:     s.domain,
		records:    records,
		lists:      lists,
		counts:     counts,
		logger:     logger,
	}, nil
}

// Domain returns the key layout used by the repository.
func (c *CachedRepository[T]) Domain() domaincache.Domain {
	return c.domain
}

// Stats adds up the reads of every cached method.
func (c *CachedRepository[T]) Stats() domaincache.Stats {
	r, l, n := c.records.Stats(), c.lists.Stats(), c.counts.Stats()
	return domaincache.Stats{
		Hits:   r.Hits + l.Hits + n.Hits,
		Misses: r.Misses + l.Misses + n.Misses,
		Size:   r.Size,
	}
}

// Close detaches the repository caches from the manager and the channel.
func (c *CachedRepository[T]) Close() error {
	_ = c.counts.Close()
	_ = c.lists.Close()
	return c.records.Close()
}

// GetByID retrieves a record by ID, cached when no criteria are given
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	if len(criteria) > 0 {
		return c.Repository.GetByID(ctx, id, criteria...)
	}
	return c.records.GetOrFetch(ctx, c.domain.EntityKey(id), func(ctx context.Context) (T, error) {
		return c.Repository.GetByID(ctx, id)
	})
}

// Get retrieves a single record, cached like List under a "one" qualifier
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	key, ok := c.listKey(ctx, len(criteria) > 0, "one")
	if !ok {
		return c.Repository.Get(ctx, criteria...)
	}

	return c.records.GetOrFetch(ctx, key, func(ctx context.Context) (T, error) {
		return c.Repository.Get(ctx, criteria...)
	})
}

// List retrieves multiple records, see CachedRepository for the cached cases
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	key, ok := c.listKey(ctx, len(criteria) > 0)
	if !ok {
		return c.Repository.List(ctx, criteria...)
	}

	res, err := c.lists.GetOrFetch(ctx, key, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.Repository.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria, cached like List
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	key, ok := c.listKey(ctx, len(criteria) > 0, "count")
	if !ok {
		return c.Repository.Count(ctx, criteria...)
	}

	return c.counts.GetOrFetch(ctx, key, func(ctx context.Context) (int, error) {
		return c.Repository.Count(ctx, criteria...)
	})
}

// Create creates a new record and announces it
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.Repository.Create(ctx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationCreate, result)
	}
	return result, err
}

// CreateTx creates a new record within a transaction. The mutation is
// announced when the statement succeeds, not when tx commits.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.Repository.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationCreate, result)
	}
	return result, err
}

// CreateMany creates multiple records
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.Repository.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationCreate, result...)
	}
	return result, err
}

// CreateManyTx creates multiple records within a transaction
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.Repository.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationCreate, result...)
	}
	return result, err
}

// GetOrCreate gets a record or creates it if it doesn't exist
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.Repository.GetOrCreate(ctx, record)
	if err == nil {
		// we cannot tell whether a row was inserted
		c.mutated(ctx, broadcast.MutationCreate, result)
	}
	return result, err
}

// GetOrCreateTx gets a record or creates it if it doesn't exist within a transaction
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.Repository.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.mutated(ctx, broadcast.MutationCreate, result)
	}
	return result, err
}

// Update updates a record
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.Repository.Update(ctx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result)
	}
	return result, err
}

// UpdateTx updates a record within a transaction
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.Repository.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result)
	}
	return result, err
}

// UpdateMany updates multiple records
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.Repository.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result...)
	}
	return result, err
}

// UpdateManyTx updates multiple records within a transaction
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.Repository.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result...)
	}
	return result, err
}

// Upsert inserts or updates a record; it is announced as an update
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.Repository.Upsert(ctx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.Repository.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result)
	}
	return result, err
}

// UpsertMany inserts or updates multiple records
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.Repository.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result...)
	}
	return result, err
}

// UpsertManyTx inserts or updates multiple records within a transaction
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.Repository.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.mutated(ctx, broadcast.MutationUpdate, result...)
	}
	return result, err
}

// Delete deletes a record
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.Repository.Delete(ctx, record)
	if err == nil {
		c.mutated(ctx, broadcast.MutationDelete, record)
	}
	return err
}

// DeleteTx deletes a record within a transaction
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.Repository.DeleteTx(ctx, tx, record)
	if err == nil {
		c.mutated(ctx, broadcast.MutationDelete, record)
	}
	return err
}

// ForceDelete force deletes a record (bypassing soft delete)
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.Repository.ForceDelete(ctx, record)
	if err == nil {
		c.mutated(ctx, broadcast.MutationDelete, record)
	}
	return err
}

// ForceDeleteTx force deletes a record within a transaction (bypassing soft delete)
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.Repository.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.mutated(ctx, broadcast.MutationDelete, record)
	}
	return err
}

// DeleteMany deletes multiple records based on criteria
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.Repository.DeleteMany(ctx, criteria...)
	if err == nil {
		c.invalidateAll()
	}
	return err
}

// DeleteManyTx deletes multiple records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.Repository.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll()
	}
	return err
}

// DeleteWhere deletes records based on criteria
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.Repository.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.invalidateAll()
	}
	return err
}

// DeleteWhereTx deletes records based on criteria within a transaction
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.Repository.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidateAll()
	}
	return err
}

func (c *CachedRepository[T]) listKey(ctx context.Context, hasCriteria bool, suffix ...any) (string, bool) {
	s, scoped := scopeFromContext(ctx)
	if !scoped {
		if hasCriteria {
			return "", false
		}
		return c.domain.CollectionKey(domaincache.GlobalScope, suffix...), true
	}

	parts := append(append([]any(nil), s.qualifiers...), suffix...)
	return c.domain.CollectionKey(s.scope, parts...), true
}

func (c *CachedRepository[T]) mutated(ctx context.Context, t broadcast.MutationType, records ...T) {
	for _, record := range records {
		id, err := identify(record, c.domain.ScopeField)
		if err != nil {
			// without an id no event can be built; drop everything we may hold
			c.logger.Warn("cannot identify mutated record", zap.Error(err))
			c.invalidateAll()
			continue
		}
		c.records.Mutated(ctx, c.domain.NewEvent(t, id.payload(c.domain.ScopeField)))
	}
}

// invalidateAll drops the domain locally. Criteria based writes have no
// record to announce, so other instances keep their entries until they expire.
func (c *CachedRepository[T]) invalidateAll() {
	removed := c.records.InvalidatePattern(c.domain.CollectionPattern())
	removed += c.records.InvalidatePattern(c.domain.Entity)
	c.logger.Debug("invalidated domain after criteria write", zap.Int("removed", removed))
}
