package taskproxyd

import "github.com/mvoss/taskproxyd/internal/constants"

// Re-exported sizing constants for the public API.
const (
	RequestBufferSize = constants.RequestBufferSize
	ArgCap            = constants.ArgCap
	DefaultCapacity   = constants.DefaultCapacity
	DefaultBacklog    = constants.DefaultBacklog
	DefaultSocketPath = constants.DefaultSocketPath
)
