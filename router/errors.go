package router

import "errors"

// Sentinel errors for route table construction.
var (
	ErrEmptyPath      = errors.New("route path is empty")
	ErrDuplicateRoute = errors.New("route already registered")
	ErrAmbiguousParam = errors.New("conflicting parameter routes")
)
