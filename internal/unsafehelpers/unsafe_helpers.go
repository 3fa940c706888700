// Package unsafehelpers centralises the unavoidable uses of the `unsafe`
// standard-library package so the rest of spineldb-core stays clean and easy
// to audit. Every helper documents its pre-/post-conditions.
//
// ⚠️  DISCLAIMER  These helpers deliberately break the Go memory-safety model
// for the sake of zero-allocation conversions. Use ONLY inside this
// repository; they are not part of the public API and may change without
// notice. Misuse leads to subtle data races or garbage-collector corruption.
//
// © 2025 spineldb-core authors. MIT License.
package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee that b is never mutated for the lifetime of the
// returned string — used for the blocker's lookup-only waiter-map accesses,
// where the string key does not outlive the lookup.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets string data as a byte slice without copying.
// The slice MUST remain read-only: writing to it mutates immutable string
// storage and is undefined behaviour.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
