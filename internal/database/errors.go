package database

import "errors"

// ErrCommit wraps failures of the final COMMIT.  Callers that performed
// remote side effects inside the transaction use it to decide whether a
// compensating call is required.
var ErrCommit = errors.New("commit tx")
