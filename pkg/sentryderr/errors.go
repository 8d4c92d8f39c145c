// Package sentryderr names the error kinds from spec.md §7 as sentinel
// values so callers can branch with errors.Is instead of string matching.
package sentryderr

import "errors"

var (
	// ErrConfig marks a malformed or out-of-range configuration value.
	// Fatal at startup.
	ErrConfig = errors.New("sentryd: config error")

	// ErrSubscriberConflict is returned by Bus.Subscribe when the id is
	// already registered.
	ErrSubscriberConflict = errors.New("sentryd: subscriber already exists")

	// ErrKernelAttach marks a failure to load/attach the kernel probe.
	// Non-fatal when syscall tracing is disabled, fatal otherwise.
	ErrKernelAttach = errors.New("sentryd: kernel attach error")

	// ErrRecordDecode marks a malformed kernel ring-buffer record. Always
	// logged, counted, and dropped — never propagated past the reader.
	ErrRecordDecode = errors.New("sentryd: record decode error")

	// ErrShutdown is returned by Bus.Publish and Bus.Subscribe once the bus
	// has been shut down. Bus.Receive reports shutdown with ok=false instead.
	ErrShutdown = errors.New("sentryd: shutdown")
)
