package record

import (
	"reflect"
	"strings"
)

// placeholders are string values treated as missing.
var placeholders = map[string]bool{
	"n/a":      true,
	"na":       true,
	"none":     true,
	"null":     true,
	"unknown":  true,
	"untitled": true,
	"-":        true,
}

// IsPresent reports whether a field value counts as populated. It is the one
// presence test shared by every stage.
func IsPresent(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return presentString(x)
	case FlexibleString:
		return presentString(string(x))
	case PublicationDates:
		return presentString(x.Print) || presentString(x.Online)
	case Author:
		return presentString(x.Family) || presentString(x.Given) || presentString(x.Display)
	case AuthorList:
		return len(x) > 0
	case bool:
		return x
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return IsPresent(rv.Elem().Interface())
	case reflect.Int, reflect.Int64, reflect.Int32:
		return rv.Int() != 0
	case reflect.Float64, reflect.Float32:
		return rv.Float() != 0
	}
	return !rv.IsZero()
}

func presentString(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	return !placeholders[strings.ToLower(s)]
}

// Has reports whether the field at path is populated.
func (r *Record) Has(path string) bool {
	v, err := r.Get(path)
	if err != nil {
		return false
	}
	return IsPresent(v)
}
