package graph

import "errors"

// Sentinel causes, wrapped inside errcode.Error so callers can both switch
// on errcode.Kind and match the specific condition with errors.Is.
var (
	ErrCycleDetected = errors.New("cycle detected")
	ErrUnknownVertex = errors.New("unknown vertex")
	ErrDuplicateName = errors.New("duplicate vertex name")
)
