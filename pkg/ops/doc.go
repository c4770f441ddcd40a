// Package ops defines the operation descriptor boundary between the deploy
// engine and the catalog of concrete operations.
//
// An Operation turns desired-state arguments plus observed facts for one
// host into an ordered list of remote command specifications. Descriptors
// are pure diffing logic: an empty command list means the host already
// satisfies the desired state and nothing runs there. The engine owns
// execution; descriptors never touch a connection.
//
// Registrations carry a per-call Config (display name, sudo, error
// tolerance, timeout) built from Option values, and return a Handle whose
// per-host outcomes are populated by the engine as the run executes.
package ops
