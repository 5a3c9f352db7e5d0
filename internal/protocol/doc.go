// Package protocol defines the Omega envelope and its binary wire codec.
//
// Design decisions:
//   - Envelope is immutable once constructed; the payload is opaque bytes
//     owned by the business-message layer.
//   - Correlation ids are uint64, assigned by the client side only.
//   - Decode never panics on malformed input; every failure wraps ErrDecode.
package protocol
