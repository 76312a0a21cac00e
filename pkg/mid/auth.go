package mid

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader is the header holding the shared API secret.
const SecretHeader = "X-Graph-Secret"

// SharedSecret rejects requests whose X-Graph-Secret header does not match
// secret. An empty secret rejects everything.
func SharedSecret(secret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
