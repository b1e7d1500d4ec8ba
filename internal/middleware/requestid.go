// Package middleware holds HTTP middleware that is not tied to the REST
// adapter: request identity and webhook signature verification.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/calebhart/stagesync/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags every request with an ID for log correlation. An inbound
// X-Request-ID is honored so webhook deliveries can be traced end to end;
// otherwise a fresh ID is minted. The ID lands in the context and is echoed
// on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// newRequestID mints 16 random bytes as a 32-char hex string.
func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
