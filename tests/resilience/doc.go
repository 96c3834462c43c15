//go:build resilience

// Package resilience contains end-to-end tests for grill sessions driving
// real child processes over a pty. These tests require the "resilience"
// build tag:
//
//	go test -tags=resilience ./tests/resilience/ -v -timeout 5m
package resilience
