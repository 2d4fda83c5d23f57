package security

// Authorizer checks if a user is allowed to talk to the game master.
type Authorizer struct {
	allowedIDs map[int64]bool
}

// NewAuthorizer creates an authorizer with the given allowed user IDs.
// If the list is empty, all users are allowed.
func NewAuthorizer(allowedIDs []int64) *Authorizer {
	m := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		m[id] = true
	}
	return &Authorizer{allowedIDs: m}
}

// IsAllowed returns true if the user is authorized. A nil Authorizer allows everyone.
func (a *Authorizer) IsAllowed(userID int64) bool {
	if a == nil || len(a.allowedIDs) == 0 {
		return true
	}
	return a.allowedIDs[userID]
}
