//go:build !swag

package swaggerkit

import "net/http"

// without the generated document the UI still loads an empty one
func serveDocJSON() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(`{"openapi":"3.0.3","info":{"title":"curator","version":"0.0.0"},"paths":{}}`))
	}
}
