// Package dispatch implements the single synchronous call contract used at
// wizard dispatch nodes. Requests are routed by kind to the execution agent,
// the swap quote aggregator or the completion provider, and every failure is
// returned as a coded error (transport, protocol or semantic).
package dispatch
