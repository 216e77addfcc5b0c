// Package authmw provides HTTP middleware for shared-secret authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
)

// SharedSecret returns middleware that validates a shared secret presented in
// one of the given headers or in the "secret" query parameter. Comparison uses
// constant-time equality to prevent timing side-channel attacks. An empty
// expected secret rejects every request: admin surfaces stay closed until the
// operator configures one.
func SharedSecret(secret string, headers ...string) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				unauthorized(w)
				return
			}

			provided := ""
			for _, h := range headers {
				if v := r.Header.Get(h); v != "" {
					provided = v
					break
				}
			}
			if provided == "" {
				provided = r.URL.Query().Get("secret")
			}

			if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
