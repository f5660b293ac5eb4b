package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ride-lifecycle/internal/auth"
	"github.com/example/ride-lifecycle/internal/ride"
)

type errorResponse struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Parsed  any    `json:"parsed,omitempty"`
}

// writeError maps coordinator and auth errors to one stable code plus an
// HTTP status. Anything unrecognized becomes INTERNAL so storage or sink
// details never leak to callers.
func writeError(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		writeJSONError(w, http.StatusUnauthorized, errorResponse{Code: authErr.Code(), Message: "authentication required"})
		return
	}

	var coded ride.CodedError
	if errors.As(err, &coded) {
		resp := errorResponse{Code: coded.Code(), Message: coded.Error()}
		var badCoords *ride.InvalidCoordinatesError
		if errors.As(err, &badCoords) {
			resp.Parsed = badCoords.Parsed
		}
		writeJSONError(w, statusForCode(coded.Code()), resp)
		return
	}

	writeJSONError(w, http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Message: "internal error"})
}

func statusForCode(code string) int {
	switch code {
	case ride.CodeForbiddenRole, ride.CodeNotOwner:
		return http.StatusForbidden
	case ride.CodeNotFound:
		return http.StatusNotFound
	case ride.CodeTerminalRide, ride.CodeAlreadyClaimed, ride.CodeStateConflict:
		return http.StatusConflict
	case ride.CodeInvalidTransition, ride.CodeInvalidCoordinates, ride.CodeActiveRideExists:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
