// Package triage is the standby/triage repository boundary. It defines the
// persisted signal item, the human/automated triage decision that resolves
// a standby item, the delivered-alert record, and the Store interface with
// in-memory and PostgreSQL implementations.
package triage
