package binder

import (
	"fmt"
	"net/http"
)

// Path creates a path parameter binder using extractor, usually chi.URLParam.
// Fields are matched by the `path` tag. Types implementing
// encoding.TextUnmarshaler, such as uuid.UUID, are decoded with it.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}

		rv, err := structValue(v, ErrInvalidPath)
		if err != nil {
			return err
		}
		rt := rv.Type()

		values := make(map[string][]string)
		for i := range rt.NumField() {
			name, skip := parseFieldTag(rt.Field(i), "path")
			if skip || rt.Field(i).Tag.Get("path") == "" {
				continue
			}
			if value := extractor(r, name); value != "" {
				values[name] = []string{value}
			}
		}

		return bindToStruct(v, "path", values, ErrInvalidPath)
	}
}
