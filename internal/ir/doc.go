// Package ir provides the canonical value types and content-addressing
// primitives for mason.
//
// This package contains value and digest logic only. All other internal
// packages may import ir; ir imports nothing internal. This keeps it the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - All content-addressed identity goes through MarshalCanonical
//     (RFC 8785 canonical JSON) plus SHA-256 with domain separation
//   - Logical sequence numbers only, never wall-clock timestamps, inside
//     any hashed structure
package ir
