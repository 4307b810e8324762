package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns a handler panic into a JSON 500. When the handler had
// already started its response the connection is aborted instead, so a
// client never reads a half prediction followed by an error body.
func Recovery(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				route := r.Pattern
				if route == "" {
					route = r.URL.Path
				}
				logger.Error("handler panicked",
					"panic", v,
					"route", route,
					"remote", r.RemoteAddr,
					"response_started", rw.wroteHeader,
					"stack", string(debug.Stack()),
				)

				if rw.wroteHeader {
					panic(http.ErrAbortHandler)
				}
				writeError(rw, http.StatusInternalServerError, "internal server error")
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
