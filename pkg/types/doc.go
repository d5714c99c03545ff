// Package types defines the entities, store interfaces, action payloads and
// standard errors shared by the journey assistant core.
//
// Storage follows a unit-of-work shape: a Store hands out a Tx inside Update
// or View, and every table accessor obtained from that Tx runs inside the same
// transaction. Entity tables keep the generic any-based accessor style; callers
// type-assert to the concrete entity struct.
package types
