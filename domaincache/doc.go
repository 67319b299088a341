// Package domaincache gives one kind of record a typed view over a shared
// cache.Manager, with hit/miss statistics and cross-instance invalidation.
//
// A Domain fixes the key layout. Listings live under the collection
// namespace and single records under the entity namespace:
//
//	d := domaincache.Domain{Collection: "reviews", Entity: "review", ScopeField: "to_id"}
//	d.CollectionKey("u7")         // reviews:u7
//	d.CollectionKey("u7", "p", 2) // reviews:u7:p:2
//	d.EntityKey("rev-9")          // review:rev-9
//
// A mutation event makes the listings of its scope stale, plus the record
// itself for updates and deletes:
//
//	create {id: rev-9, to_id: u7} -> reviews:u7, reviews:_
//	delete {id: rev-9, to_id: u7} -> reviews:u7, reviews:_, review:rev-9
//
// A Facade applies those rules locally (ApplyMutation), publishes them
// (Broadcast) or both (Mutated). Connected to a broadcast.Channel it also
// applies the events other instances publish. Writers must call Mutated
// after every successful write, before reporting success to their caller.
//
// Hit and miss counters belong to the facade, so two consumers sharing a
// manager keep separate statistics. Close detaches the facade from the
// manager and the channel; remote events are not applied afterwards.
package domaincache
