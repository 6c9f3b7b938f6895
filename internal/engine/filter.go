package engine

// IsSelfOrigin reports whether an event was caused by principalID. An
// event without an actor is never self-origin, and neither is any event
// when the principal is unknown.
func IsSelfOrigin(actorID, principalID string) bool {
	return actorID != "" && principalID != "" && actorID == principalID
}
