package repositorycache

import (
	"context"
)

type scopeContextKey struct{}

// listScope names the listing a criteria based read produces.
type listScope struct {
	scope      string
	qualifiers []any
}

// WithScope tells cached reads which listing the query criteria select.
// Criteria are closures and cannot be turned into keys, so List and Count
// calls that pass criteria are only cached when a scope is attached:
//
//	ctx = repositorycache.WithScope(ctx, userID, "page", page)
//	reviews, total, err := repo.List(ctx, repository.SelectBy("to_id", "=", userID), paginate(page))
//
// The scope must be the value of the domain scope field for the selected
// records, otherwise mutations will not invalidate the listing.
func WithScope(ctx context.Context, scope string, qualifiers ...any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if scope == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey{}, listScope{
		scope:      scope,
		qualifiers: append([]any(nil), qualifiers...),
	})
}

func scopeFromContext(ctx context.Context) (listScope, bool) {
	if ctx == nil {
		return listScope{}, false
	}
	s, ok := ctx.Value(scopeContextKey{}).(listScope)
	return s, ok
}
