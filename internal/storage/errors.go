package storage

import "errors"

// ErrNotFound means the row a query looked up does not exist. Callers that
// can recover, like card attachment falling back to creation, check for it
// with errors.Is.
var ErrNotFound = errors.New("storage: not found")
