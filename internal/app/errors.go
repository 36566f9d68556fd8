package app

import "errors"

// Sentinel errors. Handlers map these to stable response codes; callers are
// expected to match with errors.Is, never by parsing text.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")

	// ErrUpstream covers embedding, vector store and generation failures.
	// The wrapped message names the failing dependency but never carries
	// prompts, credentials or upstream response bodies.
	ErrUpstream = errors.New("upstream service failed")
)
