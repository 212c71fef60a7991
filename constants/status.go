package constants

// ProfileStatus is the canonical pipeline status for a profile.
type ProfileStatus string

// Stable values (these exact strings end up in the persisted snapshot).
const (
	StatusUploaded  ProfileStatus = "uploaded"  // raw image stored, nothing extracted yet
	StatusExtracted ProfileStatus = "extracted" // inference fields applied
	StatusGenerated ProfileStatus = "generated" // certificate rendered and stored
	StatusReviewed  ProfileStatus = "reviewed"  // manually approved
)

// transitions holds the only legal status moves. Anything not listed here
// is a silent no-op at the state owner.
var transitions = map[ProfileStatus]map[ProfileStatus]struct{}{
	StatusUploaded:  {StatusExtracted: {}},
	StatusExtracted: {StatusGenerated: {}},
	StatusGenerated: {StatusReviewed: {}},
	StatusReviewed:  {StatusGenerated: {}},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to ProfileStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s ProfileStatus) bool {
	switch s {
	case StatusUploaded, StatusExtracted, StatusGenerated, StatusReviewed:
		return true
	}
	return false
}
