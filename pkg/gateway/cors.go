package gateway

import (
	"net/http"
	"strings"

	"github.com/mcpgate/mcpgate/pkg/config"
)

// applyCORS writes the router's CORS policy onto the response and reports
// whether the request was an OPTIONS preflight that has been fully handled.
func applyCORS(w http.ResponseWriter, r *http.Request, policy *config.CORS) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	if !originAllowed(origin, policy.AllowOrigins) {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	if policy.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(policy.ExposeHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(policy.ExposeHeaders, ", "))
	}

	if r.Method == http.MethodOptions {
		if len(policy.AllowMethods) > 0 {
			h.Set("Access-Control-Allow-Methods", strings.Join(policy.AllowMethods, ", "))
		}
		if len(policy.AllowHeaders) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(policy.AllowHeaders, ", "))
		}
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
