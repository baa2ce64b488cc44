// Package exitcode defines the process exit codes shared by the plugin host,
// the sub-process bootstrap and the generic sub-process runner.
//
// Values follow sysexits(3) where a matching code exists.
package exitcode

import "fmt"

// Code is a process exit status.
type Code int

const (
	// OK means the sub-process finished its message loop normally.
	OK Code = 0

	// Failure is a generic, unclassified failure.
	Failure Code = 1

	// Usage means the command line did not match the four-token contract
	// or named an unknown module.
	Usage Code = 64

	// AttachFailed means the sub-process could not attach to its channel.
	AttachFailed Code = 69

	// ServicesFailed means the sub-process dependency container could not be built or started.
	ServicesFailed Code = 70

	// ChannelClosed means the host closed the channel without asking the sub-process to stop.
	ChannelClosed Code = 74

	// ParentExited means the controlling process is no longer alive.
	ParentExited Code = 75

	// GetSubProcessBootConfigurationFail means the plugin could not decode its
	// boot configuration from the encoded arguments. The runner is never started.
	GetSubProcessBootConfigurationFail Code = 78

	// Interrupted means the sub-process was cancelled by a signal.
	Interrupted Code = 130
)

// Int returns the code as an int suitable for os.Exit.
func (c Code) Int() int {
	return int(c)
}

// String returns a readable name for the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Failure:
		return "failure"
	case Usage:
		return "usage"
	case AttachFailed:
		return "attach-failed"
	case ServicesFailed:
		return "services-failed"
	case ChannelClosed:
		return "channel-closed"
	case ParentExited:
		return "parent-exited"
	case GetSubProcessBootConfigurationFail:
		return "boot-configuration-fail"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("exit-%d", int(c))
	}
}
