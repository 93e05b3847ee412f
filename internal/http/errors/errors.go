package errors

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// InternalError logs the underlying error with the request ID and returns a
// generic 500 so internals never leak to clients.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// BadRequestError logs the cause and returns the client-safe message.
func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestID := middleware.GetReqID(r.Context())
	if requestID != "" {
		log.Printf("[WARN] RequestID=%s: bad request: %v", requestID, err)
	} else {
		log.Printf("[WARN] bad request: %v", err)
	}
	http.Error(w, clientMessage, http.StatusBadRequest)
}

// JSON writes a JSON response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] encoding json response: %v", err)
	}
}

func LogError(r *http.Request, message string, err error) {
	requestID := middleware.GetReqID(r.Context())
	if requestID != "" {
		log.Printf("[ERROR] RequestID=%s: %s: %v", requestID, message, err)
	} else {
		log.Printf("[ERROR] %s: %v", message, err)
	}
}

func LogInfo(r *http.Request, message string) {
	requestID := middleware.GetReqID(r.Context())
	if requestID != "" {
		log.Printf("[INFO] RequestID=%s: %s", requestID, message)
	} else {
		log.Printf("[INFO] %s", message)
	}
}
