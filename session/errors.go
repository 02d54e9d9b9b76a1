package session

import "errors"

// ErrPipelineActive is returned by BeginPipeline when the session's
// pipeline slot is already held.
var ErrPipelineActive = errors.New("session: pipeline already active")
