package pluginhost

import "errors"

// Common errors returned by plugin host operations.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPluginNotFound is returned when a module name has no plugin in the PluginSet.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrInvalidInvocation is returned when a sub-process command line does
	// not carry exactly the four positional tokens.
	ErrInvalidInvocation = errors.New("invalid sub-process invocation")

	// ErrHostStarted is returned by Start on a host that is already running.
	ErrHostStarted = errors.New("host already started")

	// ErrUnknownProfile is returned when a mapping profile was never created.
	ErrUnknownProfile = errors.New("unknown mapping profile")

	// ErrAttachTimeout is returned when a sub-process does not attach to its
	// channel within the launcher's attach timeout.
	ErrAttachTimeout = errors.New("sub-process did not attach")

	// ErrSubProcessExited is returned when a sub-process exits before attaching.
	ErrSubProcessExited = errors.New("sub-process exited")
)
