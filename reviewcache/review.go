package reviewcache

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-coherent-cache/broadcast"
	"github.com/goliatone/go-coherent-cache/domaincache"
)

// Review is a rating one user leaves about another.
type Review struct {
	bun.BaseModel `bun:"table:reviews,alias:r" json:"-"`

	ID        string    `bun:"id,pk" json:"id"`
	FromID    string    `bun:"from_id,notnull" json:"from_id"`
	ToID      string    `bun:"to_id,notnull" json:"to_id"`
	Rating    int       `bun:"rating,notnull" json:"rating"`
	Comment   string    `bun:"comment" json:"comment,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Domain lays reviews out by the user they are about.
var Domain = domaincache.Domain{
	Collection: "reviews",
	Entity:     "review",
	ScopeField: "to_id",
}

// ListKey returns the key for the reviews about userID.
//
//	ListKey("u7")            // reviews:u7
//	ListKey("u7", "page", 2) // reviews:u7:page:2
func ListKey(userID string, qualifiers ...any) string {
	return Domain.CollectionKey(userID, qualifiers...)
}

// EntityKey returns the key for a single review.
func EntityKey(id string) string {
	return Domain.EntityKey(id)
}

// MutationFor builds the event announcing a change to r.
func MutationFor(t broadcast.MutationType, r Review) broadcast.MutationEvent {
	return Domain.NewEvent(t, broadcast.Payload{
		"id":      r.ID,
		"to_id":   r.ToID,
		"from_id": r.FromID,
	})
}
