package middleware

import (
	"net/http"
)

// MaxBodySize is the default request body limit, sized for a camera image.
const MaxBodySize = 10 << 20

// MaxBody limits request bodies to maxSize bytes. Handlers see an
// *http.MaxBytesError when reading past it. If maxSize is 0, MaxBodySize
// is used.
func MaxBody(maxSize int64) Middleware {
	if maxSize <= 0 {
		maxSize = MaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}
