// Package alerting fans dispatcher failures flagged for alerting out to the
// configured notifiers.
package alerting
