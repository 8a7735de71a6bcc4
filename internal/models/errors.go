package models

import "errors"

// ErrNotFound is returned by stores when a record does not exist or is not
// visible to the requesting user.
var ErrNotFound = errors.New("record not found")
