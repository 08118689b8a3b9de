// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
)

// Int64SliceToCSV converts a slice of int64s to CSV formatted data.
// e.g., []int64{1,2,3,4,5} => "1,2,3,4,5"
func Int64SliceToCSV(is []int64) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.FormatInt(v, 10)
	}

	return strings.Join(s, ",")
}

// Limiter imposes software limits on a value.
// A zero Limiter accepts everything.
type Limiter struct {
	Min float64 `json:"min" yaml:"Min"`
	Max float64 `json:"max" yaml:"Max"`
}

// Check returns true if min <= input <= max
func (l Limiter) Check(input float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return input >= l.Min && input <= l.Max
}
