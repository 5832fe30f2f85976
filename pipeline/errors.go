package pipeline

import (
	"errors"

	"github.com/dasnellings/getUnmapped/stage"
	"github.com/dasnellings/getUnmapped/tools"
)

// Every run failure wraps exactly one of these.
var (
	ErrUsage          = errors.New("usage error")
	ErrMissingInput   = errors.New("missing input")
	ErrMissingTool    = tools.ErrNotFound
	ErrOutputConflict = stage.ErrConflict
	ErrToolFailed     = tools.ErrFailed
)
