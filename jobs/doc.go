// Package jobs tracks in-flight generation attempts.
//
// The Registry is an explicit service object holding at most one Job per
// stream id. Creating a Job for an occupied stream id supersedes the previous
// one for lookups without terminating its task; the superseded attempt detects
// replacement by comparing CreatedAt at terminal-emission time. Cancellation is
// cooperative, via each Job's context.
package jobs
