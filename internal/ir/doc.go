// Package ir provides the shared domain types for dropcam.
//
// This package contains type definitions and their serialization only. All
// other internal packages import ir; ir imports nothing internal.
//
// Key conventions:
//   - Entries are ordered string records; field order follows the template
//   - Rule sets keep declaration order, evaluation depends on it
//   - All JSON tags use snake_case
//   - Hashes use canonical JSON with domain separation (see hash.go)
package ir
