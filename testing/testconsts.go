package testing

import "time"

// Service and Tenant Constants
// Common names used in gateway and observability test configurations.
const (
	TestServiceName  = "catalog-client"
	TestTenantHeader = "X-Tenant"
	TestTenantAcme   = "acme"
)

// Time Duration Constants
// Common time durations used in test synchronization and timeouts.
const (
	// TestEventuallyTimeout is the timeout for require.Eventually assertions (1 second)
	TestEventuallyTimeout = time.Second
	// TestEventuallyTick is the polling interval for require.Eventually (1ms)
	TestEventuallyTick = time.Millisecond
)
