package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// APIKeyHeader carries the back-office API key.
const APIKeyHeader = "X-API-Key"

// RequireAPIKey authenticates the request's API key and checks it carries
// scope before calling next. A failed key lookup is a 500, not a 401.
func (h *Handler) RequireAPIKey(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := h.auth.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !info.HasScope(scope) {
			writeMessage(w, http.StatusForbidden, false, "Forbidden.")
			return
		}

		lg := zctx.From(r.Context()).With(zap.String("api_key_id", info.ID))
		next.ServeHTTP(w, r.WithContext(zctx.Base(r.Context(), lg)))
	})
}
