package endpoint

import "errors"

// Error kinds returned across the remote-call and persistence boundaries.
// Callers match with errors.Is; the concrete message carries the underlying
// platform diagnostic.
var (
	// ErrClient covers transport or auth failures against the remote
	// control plane.
	ErrClient = errors.New("client error")
	// ErrNotFound means the referenced endpoint, config or record does not
	// exist.
	ErrNotFound = errors.New("not found")
	// ErrDeployment means creation reached a terminal Failed state, or the
	// execution identity could not be resolved.
	ErrDeployment = errors.New("deployment failed")
	// ErrPersistence means the lifecycle record could not be written or read.
	ErrPersistence = errors.New("persistence error")
	// ErrValidation means the deployment spec was malformed.
	ErrValidation = errors.New("invalid spec")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
