//go:build !pyroscope
// +build !pyroscope

// pyroscope_dummy.go - Profiling stub.

// Package profiling starts continuous profiling when built with the
// pyroscope tag.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing.
func Start(log *logging.Logger) (func(), error) {
	log.Debug("Pyroscope is disabled")
	return func() {}, nil
}
