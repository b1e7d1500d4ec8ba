// Package scaffold defines the port for bootstrapping a new client
// project on disk. The actual scaffolding (framework init, directory
// layout) is an external collaborator; the core only consumes it.
package scaffold

import "context"

// Bootstrapper prepares the working directory for a new delivery project.
type Bootstrapper interface {
	// Bootstrap creates the project directory for the given remote
	// project and initializes the application skeleton inside it. It
	// returns the path to the created directory. A failure may leave a
	// partially created directory behind; callers do not roll it back.
	Bootstrap(ctx context.Context, remoteProjectID string) (dir string, err error)
}
