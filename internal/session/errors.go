// ABOUTME: Sentinel errors for the session layer's lookup taxonomy
// ABOUTME: BadRequest/NotFound/Expired map 1:1 to transport statuses 400/404/410

package session

import "errors"

var (
	// ErrBadRequest indicates invalid caller input such as a blank
	// conversation id.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound indicates a conversation id that never existed, or whose
	// tombstone retention window has fully elapsed.
	ErrNotFound = errors.New("conversation not found")

	// ErrExpired indicates a conversation that existed but was removed
	// within its tombstone retention window.
	ErrExpired = errors.New("conversation expired")
)
