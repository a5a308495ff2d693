// Package dispatch holds the top-level conversation entry points: start,
// send interaction, register stream, and close. It sequences the session
// registry, correlation cache, per-interaction collector and stream registry
// around calls into the external charter engine.
//
// The one cross-collaborator error translation lives here: when the engine
// reports a session it no longer tracks, the stale local record is discarded
// and the caller sees Expired. Every other engine failure is wrapped
// opaquely.
package dispatch
