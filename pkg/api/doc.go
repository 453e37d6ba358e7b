// Package api defines the shared wire-level types of the stride server:
// the error taxonomy with its JSON envelope, and the principal model
// used by authentication, delegation, and storage scoping.
package api
