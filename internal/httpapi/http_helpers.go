package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/DoyleJ11/play-tracker/pkg/types"
)

// maxBodyBytes caps request bodies; a snapshot is well under 4 KiB.
const maxBodyBytes = 64 << 10

func readJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: message})
}
