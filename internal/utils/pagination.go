// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page normalizes 1-based page/size query values and returns the matching
// offset and limit. Pages below 1 become 1; sizes outside 1..maxSize fall
// back to defSize.
//
// Example:
//
//	off, lim := utils.Page(3, 10, 20, 100) // 20, 10
func Page(page, size, defSize, maxSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxSize {
		size = defSize
	}
	return (page - 1) * size, size
}
