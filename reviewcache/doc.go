// Package reviewcache is the review specific cache facade.
//
// Listings of the reviews about a user are cached under reviews:<user id>,
// optionally qualified (reviews:u7:page:2); single reviews under
// review:<id>. After creating, updating or deleting a review call Mutated
// with MutationFor so this instance and every connected instance drop the
// affected entries:
//
//	created, err := api.CreateReview(ctx, input)
//	if err != nil {
//		return err
//	}
//	reviews.Mutated(ctx, reviewcache.MutationFor(broadcast.MutationCreate, created))
package reviewcache
