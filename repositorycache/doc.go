// Package repositorycache provides cached repository decorators for go-repository-bun
// that keep every cache instance coherent with the writes made through them.
//
// # Overview
//
// CachedRepository wraps a base repository.Repository[T]. Reads go through a
// domaincache facade; writes go to the base repository and, when they
// succeed, announce a mutation event that invalidates the affected entries
// in this process and, through a broadcast channel, in every other instance.
//
// # Basic Usage
//
//	var base repository.Repository[*Review] = newReviewRepository(db)
//	repo, err := repositorycache.New(base, manager,
//		repositorycache.WithDomain(reviewcache.Domain),
//		repositorycache.WithChannel(channel),
//	)
//	if err != nil {
//		return err
//	}
//
//	review, err := repo.GetByID(ctx, "rev-9") // cached under review:rev-9
//	_, err = repo.Update(ctx, review)          // drops review:rev-9 and reviews:<to_id>
//
// # Cached vs Pass-through Operations
//
// ## Cached Operations
//
//   - GetByID without criteria, under <entity>:<id>
//   - List and Count without criteria, under the global listing <collection>:_
//   - List and Count with criteria when the context carries WithScope
//
// ## Pass-through Operations
//
//   - Get, GetByIdentifier and reads with criteria but no scope
//   - All transactional reads (*Tx methods) and Raw queries
//   - All writes, which additionally invalidate on success
//
// Criteria are closures. Two closures built from the same function literal
// with different captured values are indistinguishable by reflection, so
// they are never used to build keys. WithScope names the listing instead.
//
// # Invalidation
//
// Creates, updates, upserts and deletes of a record publish an event with the
// record ID and, when the domain has a ScopeField, its scope. Criteria based
// deletes (DeleteMany, DeleteWhere) have no records to announce and drop the
// whole domain locally only; other instances serve their entries until the
// TTL runs out.
//
// Transactional writes announce the mutation when the statement succeeds. A
// later rollback leaves caches emptier than necessary, never stale.
//
// # Key Layout
//
// Without WithDomain the layout comes from DomainFor: the snake_case type
// name for single records and its inflection plural for listings
// (BlogPost: blog_post:<id>, blog_posts:_). Such a domain has no scope field,
// so any write invalidates every listing.
//
// # Error Handling
//
// Errors from the base repository are propagated unchanged and nothing is
// cached for failed reads. Broadcast failures are logged and never returned.
//
// # See Also
//
// For cache configuration and key serialization details, see the cache package.
// For dependency injection setup, see the pkg/di package.
package repositorycache
