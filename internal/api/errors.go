package api

import (
	"encoding/json"
	"net/http"
)

// routeError is the body written for requests that match no route. Handler
// errors use the same {"error":{...}} envelope from the alerts package.
type routeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeRouteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error routeError `json:"error"`
	}{routeError{Code: code, Message: message}})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeRouteError(w, http.StatusNotFound, "NOT_FOUND", "no such route: "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeRouteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not allowed on "+r.URL.Path)
}
