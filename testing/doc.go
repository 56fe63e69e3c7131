// Package testing provides shared test utilities for restgate.
//
// # Stub
//
// The stub subpackage runs a scripted upstream on an echo server. Routes replay a
// sequence of replies and every request is recorded, which lets gateway tests assert
// on retries, headers and query strings without a live API.
//
// # Mocks
//
// The mocks subpackage provides a testify-based MockTransport for driving the gateway
// with canned responses and transport errors.
//
// # Usage
//
//	import (
//		testconsts "github.com/gaborage/restgate/testing"
//		"github.com/gaborage/restgate/testing/mocks"
//		"github.com/gaborage/restgate/testing/stub"
//	)
package testing
