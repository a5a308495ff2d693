// Package stream tracks the live subscribers of each conversation and
// performs fan-out delivery. Delivery is best-effort and in-process: every
// watcher is a buffered channel handle, a full buffer drops the event for
// that watcher only, and there is no replay buffer beyond the one-time
// registration snapshot.
package stream
