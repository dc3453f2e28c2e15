// Package ir provides the value types shared by every treesync package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed union; Absent is a variant, not a nil
//   - NO float types anywhere - numbers are int64
//   - Canonical JSON (sorted keys, verbatim strings, no HTML escaping) for
//     everything that is written to a shared store
package ir
