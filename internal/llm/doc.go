// Package llm abstracts chat-completion providers behind a single Complete
// call. Provider adapters live in sub-packages.
package llm
