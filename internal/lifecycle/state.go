// Package lifecycle manages generations of the offline cache: each release
// ships a worker that precaches its shell, serves requests through route
// strategies backed by a named cache bucket, and hands over to its successor
// without ever leaving a request window with no handler.
//
// The state machine mirrors a strict install/activate protocol: a new worker
// installs alongside the active one and then waits; it only takes over on an
// explicit skip-waiting promotion or when it is the first generation ever
// registered. Activation is when old buckets are deleted, never before.
package lifecycle

// State is a worker's position in the install/activate protocol.
type State int

const (
	// StateInstalling means the worker is precaching its shell.
	StateInstalling State = iota
	// StateInstalled means precaching finished and the worker is waiting
	// for promotion.
	StateInstalled
	// StateActivating means the worker is claiming the active slot and
	// deleting buckets it does not own.
	StateActivating
	// StateActivated means the worker is serving requests.
	StateActivated
	// StateRedundant means the worker was superseded or replaced and will
	// never serve.
	StateRedundant
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}
