package binder

import "net/http"

// Query creates a query string binder. Fields are matched by the `query` tag;
// `query:"-"` skips a field. Slices accept repeated or comma separated values.
//
//	type GetRequest struct {
//		ID      uuid.UUID `path:"id"`
//		Include []string  `query:"include"`
//	}
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrInvalidQuery)
	}
}
