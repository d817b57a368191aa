package quota

import "errors"

var (
	// ErrQuotaExceeded means the user's monthly scan allowance is spent.
	ErrQuotaExceeded = errors.New("monthly scan quota exceeded")

	// ErrUsageNotFound means no usage row exists for the user yet.
	ErrUsageNotFound = errors.New("usage record not found")
)
