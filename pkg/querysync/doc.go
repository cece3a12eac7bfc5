// Package querysync mirrors attribute values to an external string-keyed
// location, typically a URL query string.
//
// The adapter knows nothing about the location beyond a three-method
// contract (Read, Write, Subscribe). Each synced pair is the same
// cycle-safe pairing the widget layer uses: instance-to-external
// serializes through a kind-specific codec; external-to-instance decodes
// and performs a validated store write. Undecodable external strings are
// ignored, and externally supplied values that fail validation are
// dropped without rewriting the external state.
package querysync
