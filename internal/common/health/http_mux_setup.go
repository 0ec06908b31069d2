package health

import (
	"net/http"
)

// SetupHttpMux serves checker on /health.
func SetupHttpMux(mux *http.ServeMux, checker Checker) {
	mux.Handle("/health", NewHealthCheckHttpHandler(checker))
}
