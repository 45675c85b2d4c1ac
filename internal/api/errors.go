// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/capso/media-server/internal/mediaerr"
)

// errorBody is the wire shape of every failure response.
type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// kindStatus maps the error taxonomy onto HTTP status codes.
var kindStatus = map[mediaerr.Kind]int{
	mediaerr.KindInvalidRequest:    http.StatusBadRequest,
	mediaerr.KindNoAudioTrack:      http.StatusUnprocessableEntity,
	mediaerr.KindNoVideoStream:     http.StatusInternalServerError,
	mediaerr.KindServerBusy:        http.StatusServiceUnavailable,
	mediaerr.KindTimeout:           http.StatusGatewayTimeout,
	mediaerr.KindProgressStalled:   http.StatusGatewayTimeout,
	mediaerr.KindFFprobeError:      http.StatusInternalServerError,
	mediaerr.KindFFmpegError:       http.StatusInternalServerError,
	mediaerr.KindNotFound:          http.StatusNotFound,
	mediaerr.KindInvalidState:      http.StatusBadRequest,
	mediaerr.KindUnsupportedConfig: http.StatusBadRequest,
	mediaerr.KindUploadFailed:      http.StatusInternalServerError,
	mediaerr.KindAudioTooLarge:     http.StatusInternalServerError,
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps a classified error onto its wire shape. Unclassified errors
// surface as a generic 500.
func writeErr(w http.ResponseWriter, err error) {
	kind := mediaerr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		kind = mediaerr.KindFFmpegError
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: errorInfo{
		Code:    string(kind),
		Message: err.Error(),
		Details: mediaerr.DetailsOf(err),
	}})
}

// writeInvalid reports a request validation failure with field details.
func writeInvalid(w http.ResponseWriter, details string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorInfo{
		Code:    string(mediaerr.KindInvalidRequest),
		Message: "request validation failed",
		Details: details,
	}})
}
