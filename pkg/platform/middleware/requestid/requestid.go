// Package requestid assigns each request a correlation identifier.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"ballotcore/pkg/requestcontext"
)

const headerName = "X-Request-ID"

// Middleware reuses the caller-supplied X-Request-ID or generates one, stores
// it in the context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerName)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerName, id)

		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
