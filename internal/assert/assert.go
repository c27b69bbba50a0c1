// Package assert holds debug-only invariant checks compiled out of
// release builds. Build with -tags debugassert to enable them.
package assert
