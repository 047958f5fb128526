// Package api exposes the wizard over HTTP. Each browser session is keyed by
// a UUID cookie and the user identity comes from gateway headers; every
// response uses the same {type, step, message, options, error, retryable,
// data} envelope.
package api
