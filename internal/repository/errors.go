package repository

import "errors"

// ErrUserNotFound is returned when no record exists for the user id.
var ErrUserNotFound = errors.New("user not found")
