// Package permission implements the daemon's tool-approval gate: a client
// somewhere must answer "allow" or "deny" for a tool call the agent flagged
// as sensitive, and exactly one of possibly several concurrent answers wins.
package permission
