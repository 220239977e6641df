package compositor

import (
	"errors"

	"github.com/Sportinger/mse-compositor/internal/gpu"
)

var (
	// ErrDeviceLost is returned once the GPU device is lost. The engine
	// refuses further work until it is reinitialized with a fresh device.
	ErrDeviceLost = gpu.ErrDeviceLost

	// ErrNotInitialized is returned when an operation requires a running
	// engine.
	ErrNotInitialized = gpu.ErrNotInitialized

	// ErrInvalidResolution is returned for zero-sized compositions.
	ErrInvalidResolution = gpu.ErrInvalidResolution

	// ErrNoAdapter is returned when no usable GPU adapter is found.
	ErrNoAdapter = gpu.ErrNoAdapter

	// ErrTargetNotFound is returned for operations on an unknown output
	// target ID.
	ErrTargetNotFound = errors.New("compositor: target not found")
)
