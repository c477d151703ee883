// Package enums holds the string enums shared by the API, the GORM models
// and the Postgres enum types created by the migrations.
package enums

import (
	"fmt"
	"slices"
)

func oneOf[T ~string](value T, allowed []T) bool {
	return slices.Contains(allowed, value)
}

// parse matches raw input exactly; kind names the enum in the error.
func parse[T ~string](raw string, allowed []T, kind string) (T, error) {
	if value := T(raw); oneOf(value, allowed) {
		return value, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
