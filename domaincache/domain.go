package domaincache

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/cache"
)

// GlobalScope is the scope segment used for listings that are not scoped to
// an owner. It is invalidated by every mutation in the domain.
const GlobalScope = "_"

// Domain describes how a kind of record is laid out in the cache:
//
//	<Collection>:<scope>[:qualifier]   listings, e.g. reviews:u7:page:2
//	<Entity>:<id>[:qualifier]          single records, e.g. review:rev-9
//
// ScopeField names the payload field holding the scope of a mutated record
// (for reviews, the user the review is about).
type Domain struct {
	Collection string
	Entity     string
	ScopeField string
}

var errContainsSeparator = errors.New("must not contain " + cache.KeySeparator)

func noSeparator(value any) error {
	s, _ := value.(string)
	if strings.Contains(s, cache.KeySeparator) {
		return errContainsSeparator
	}
	return nil
}

// Validate checks that both namespaces are set and are single key segments.
func (d Domain) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Collection, validation.Required, validation.By(noSeparator)),
		validation.Field(&d.Entity, validation.Required, validation.By(noSeparator), validation.NotIn(d.Collection)),
	)
}

// CollectionKey returns the listing key for scope. An empty scope is GlobalScope.
func (d Domain) CollectionKey(scope string, qualifiers ...any) string {
	if scope == "" {
		scope = GlobalScope
	}
	parts := append([]any{scope}, qualifiers...)
	return cache.Key(d.Collection, parts...)
}

// EntityKey returns the key of a single record.
func (d Domain) EntityKey(id string, qualifiers ...any) string {
	parts := append([]any{id}, qualifiers...)
	return cache.Key(d.Entity, parts...)
}

// ScopePattern matches every listing of scope.
func (d Domain) ScopePattern(scope string) string {
	if scope == "" {
		scope = GlobalScope
	}
	return d.Collection + cache.KeySeparator + scope
}

// CollectionPattern matches every listing in the domain.
func (d Domain) CollectionPattern() string {
	return d.Collection
}

// NewEvent builds a mutation event stamped with the domain collection.
func (d Domain) NewEvent(t broadcast.MutationType, payload broadcast.Payload) broadcast.MutationEvent {
	event := broadcast.NewMutationEvent(t, payload)
	event.Domain = d.Collection
	return event
}

// Owns reports whether event concerns the domain. Unstamped events concern
// every domain.
func (d Domain) Owns(event broadcast.MutationEvent) bool {
	return event.Domain == "" || event.Domain == d.Collection
}

// Invalidations returns the patterns a mutation makes stale, none when the
// event belongs to another domain.
//
// Every mutation invalidates the listings of the record scope together with
// the global listings; without a scope in the payload the whole collection
// goes. Updates and deletes also invalidate the record itself.
func (d Domain) Invalidations(event broadcast.MutationEvent) []string {
	if !d.Owns(event) {
		return nil
	}

	var patterns []string

	scope := ""
	if d.ScopeField != "" {
		scope = event.Payload.String(d.ScopeField)
	}
	if scope == "" {
		patterns = append(patterns, d.CollectionPattern())
	} else {
		patterns = append(patterns, d.ScopePattern(scope), d.ScopePattern(GlobalScope))
	}

	switch event.Type {
	case broadcast.MutationUpdate, broadcast.MutationDelete:
		if id := event.Payload.ID(); id != "" {
			patterns = append(patterns, d.EntityKey(id))
		}
	}

	return patterns
}
