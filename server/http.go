package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
)

type errorResponse struct {
	Error string `json:"error"`
	// Notice is the message to show a user of the panel.
	Notice string `json:"notice,omitempty"`
}

// respond encodes the data and ResponseError to JSON and responds with it and
// the http code. If the encoding fails, sets an InternalServerError.
func respond(w http.ResponseWriter, data interface{}, httpCode int) {
	var resp interface{}
	if v, ok := data.(error); ok {
		resp = errorResponse{Error: v.Error(), Notice: panel.Message(v)}
	} else {
		resp = data
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)

	if resp != nil {
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// statusOf maps gateway errors to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadBody):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadPin), errors.Is(err, gateway.UnknownPinError{}):
		return http.StatusNotFound
	case errors.Is(err, gateway.ReservedPinError{}):
		return http.StatusForbidden
	case errors.Is(err, gateway.UnsupportedModeError{}), errors.Is(err, gateway.InvalidModeError{}):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrClosed):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// respondErr responds with err and its status code.
func respondErr(w http.ResponseWriter, err error) {
	respond(w, err, statusOf(err))
}
