// Package wizard implements the multi-step conversational flows for launching,
// selling, swapping and researching tokens. Each flow is a table of prompt and
// dispatch steps; the Engine advances a Session by one user action at a time
// and never performs session I/O itself.
package wizard
