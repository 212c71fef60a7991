package pipeline

import "certhub/internal/profile"

// UploadResult is delivered to the state owner when an upload job finishes.
type UploadResult struct {
	// Profile is the freshly created record on success, nil on failure.
	Profile *profile.Profile
	Err     error
}

// ExtractResult carries the normalized inference fields for one profile.
type ExtractResult struct {
	ID          string
	NameCN      string
	NamePinyin  string
	Birthday    *profile.Date
	BaptismDate *profile.Date
	Err         error
}

// RenderResult reports a certificate generation attempt. Step names the
// first step that failed, empty on success.
type RenderResult struct {
	ID   string
	Step string
	Err  error
}
