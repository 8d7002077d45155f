// Package utils holds small helpers shared across HTTP handlers.
package utils

import "strconv"

// AtoiDefault parses an int-valued query parameter, returning def for empty
// or malformed input. The issue listing uses it for page and page_size, where
// a garbage value should mean "first page, default size" rather than an
// error.
//
//	page := utils.AtoiDefault(c.Query("page"), 1)
//	size := utils.AtoiDefault(c.Query("page_size"), 20)
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
