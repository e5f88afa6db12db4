package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: ticket or queue entry does not exist in the store
// - ErrConflict: conditional update lost against a concurrent writer
// - ErrExpired: timestamp or cached snapshot outside its validity window
// - ErrAlreadyUsed: credential already consumed for admission
// - ErrInvalidState: entity in wrong state for the requested operation
// - ErrUnavailable: remote store or resource temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
