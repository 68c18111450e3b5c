// Package httputil renders gatewayerrors.GatewayError values as the
// gateway's one JSON error envelope, shared by every HTTP handler.
package httputil

import (
	"encoding/json"
	"net/http"

	"fitsgw/pkg/gatewayerrors"
)

// WriteError writes err as a JSON error envelope with the status derived
// from its gatewayerrors.Code. Internal errors omit their description so
// store/driver details never leak to a client; every other kind surfaces
// its description verbatim.
func WriteError(w http.ResponseWriter, err error) {
	ge, ok := gatewayerrors.As(err)
	if !ok {
		ge = gatewayerrors.New(gatewayerrors.CodeInternal, err.Error())
	}

	status := gatewayerrors.ToHTTPStatus(ge.Code)
	body := map[string]string{"error": string(ge.Code)}
	if ge.Code != gatewayerrors.CodeInternal {
		body["error_description"] = ge.Description
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
