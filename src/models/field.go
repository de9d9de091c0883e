package models

import "github.com/guregu/null/v6"

// FloatField names a nullable numeric column of T and how to reach it.
// Registries of these drive SQL column lists, scans and the field listing.
type FloatField[T any] struct {
	Name string
	Ref  func(*T) *null.Float
}

// -----------------------------------------------------------------------------

// FieldNames returns the column names of a registry in order.
func FieldNames[T any](fields []FloatField[T]) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// -----------------------------------------------------------------------------

// LookupField finds a field by name.
func LookupField[T any](fields []FloatField[T], name string) (FloatField[T], bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return FloatField[T]{}, false
}
