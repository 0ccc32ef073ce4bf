// Package subscription owns the subscriber state machine: location choice,
// order issuance, operator confirmation and the daily expiry sweep.
//
// All state changes go through storage.Store, whose operations are atomic per
// subscriber. Activation is a compare-and-set on the pending order, so a
// replayed confirmation can never extend a subscription twice.
package subscription
