package api

import (
	"net/http"

	"github.com/Mindburn-Labs/attest/pkg/lifecycle"
)

// idempotencyScope is the run-ID slot used for HTTP-level keys so they never
// collide with the machine's transition dedupe keys.
const idempotencyScope = "http"

// IdempotencyMiddleware enforces at-most-once processing for mutating
// requests carrying an Idempotency-Key header. The key is recorded in the
// shared key store before the handler runs; a request that loses the
// first-write race receives 409 and should read current state with a GET.
func IdempotencyMiddleware(keys lifecycle.KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			first, err := keys.Record(r.Context(), idempotencyScope, key)
			if err != nil {
				WriteInternal(w, err)
				return
			}
			if !first {
				WriteConflict(w, "A request with this Idempotency-Key was already accepted")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
