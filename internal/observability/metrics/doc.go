// Package metrics registers the Prometheus collectors exported on /metrics:
// HTTP traffic, wizard transitions and dispatcher calls.
package metrics
