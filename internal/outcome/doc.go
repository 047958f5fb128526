// Package outcome publishes terminal wizard outcomes to a queue so other
// services can follow launches, sells and swaps. Memory, Redis list and
// RabbitMQ transports are provided.
package outcome
