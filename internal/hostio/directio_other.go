//go:build !linux

package hostio

// directIOFlag is a no-op outside Linux; O_DIRECT has no portable
// equivalent in the standard library.
const directIOFlag = 0
