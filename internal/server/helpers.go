package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loa-finn/cheval/internal/cheval"
)

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// writeChevalError writes the structured error envelope of spec §6 at the
// status its code implies.
func writeChevalError(w http.ResponseWriter, cerr *cheval.ChevalError) {
	writeJSON(w, cerr.HTTPStatus(), cerr)
}

func invalidRequest(message string) *cheval.ChevalError {
	return &cheval.ChevalError{Code: cheval.CodeInvalidRequest, Message: message}
}

func hmacInvalid(message string) *cheval.ChevalError {
	return &cheval.ChevalError{Code: cheval.CodeHMACInvalid, Message: message}
}

func internalError(message string) *cheval.ChevalError {
	return &cheval.ChevalError{Code: cheval.CodeInternal, Message: message}
}
