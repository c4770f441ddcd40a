// Package ssh implements the deploy engine's connector over SSH.
//
// A Connector carries the fleet-wide connection policy (auth, host key
// checking, optional jump host); each Connect call merges the policy
// with one inventory host and returns an exclusive session. Sessions
// execute commands over fresh SSH channels, upload files over SFTP, and
// answer fact queries by running the registered probe commands.
package ssh

// TransportError classifies a transport-layer failure.
type TransportError struct {
	// Op is the operation that failed: "connect", "exec", "upload",
	// "fact".
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the failure may clear on retry.
	IsTemporary bool

	// IsAuthError indicates the failure is an authentication problem.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
