// Package assistant ties the wizard engine to its surroundings. It loads and
// saves sessions, builds the per-user environment (holdings, catalog), and
// records terminal outcomes: launched tokens, outcome events, audit entries
// and alerts.
package assistant
