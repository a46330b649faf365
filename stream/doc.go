// Package stream implements the push-event transport for generation runs.
//
// A Broker holds at most one live subscriber per stream id. Events emitted for
// a stream without a subscriber are dropped, never buffered; a reconnecting
// client rehydrates from job metadata instead of replaying history. The
// terminal event closes the subscriber channel.
package stream
