package integrator

import "errors"

var (
	ErrSceneNotDefined  = errors.New("integrator: no scene defined")
	ErrCameraNotDefined = errors.New("integrator: no camera defined")
	ErrNoOutput         = errors.New("integrator: no output attached")
	ErrInvalidOutput    = errors.New("integrator: invalid output dimensions")
	ErrOutputMismatch   = errors.New("integrator: output is not attached to this renderer")
	ErrClosed           = errors.New("integrator: renderer is closed")
)
