package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// DebugAuthConfig protects /debug endpoints.
type DebugAuthConfig struct {
	// Token enables Bearer authentication.
	Token string
	// FallbackAuthConfig is used when Token is empty.
	FallbackAuthConfig *AuthConfig
}

// DebugAuth requires "Bearer <token>" when a token is set, otherwise the
// main Basic Auth credentials. With neither configured every request is
// refused.
func DebugAuth(config *DebugAuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Token != "" {
				if checkBearerToken(r, config.Token) {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "debug authentication required")
				return
			}

			if fb := config.FallbackAuthConfig; fb != nil {
				if enabled, _, _ := fb.get(); enabled {
					if !fb.check(r) {
						unauthorized(w, "dermfox-debug")
						return
					}
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, "debug authentication required")
		})
	}
}

func checkBearerToken(r *http.Request, expectedToken string) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1
}
