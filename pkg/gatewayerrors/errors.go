// Package gatewayerrors provides the single typed-error vocabulary used
// across the gateway so every layer (FITS core, access control, HTTP
// transport) translates failures into one consistent JSON envelope.
package gatewayerrors

import "net/http"

// Code enumerates the error kinds from spec.md §7.
type Code string

const (
	CodeBadRequest       Code = "bad_request"
	CodeNotFound         Code = "not_found"
	CodeForbidden        Code = "forbidden"
	CodeUnsupportedImage Code = "unsupported_image"
	CodeWcsError         Code = "wcs_error"
	CodeIO               Code = "io_error"
	CodeInternal         Code = "internal_error"
)

// GatewayError is the error type every core and gateway component returns.
// Internal errors omit their description from HTTP responses; all other
// kinds surface it verbatim, mirroring the teacher's domain-errors idiom.
type GatewayError struct {
	Code        Code
	Description string
	cause       error
}

// New constructs a GatewayError with no wrapped cause.
func New(code Code, description string) *GatewayError {
	return &GatewayError{Code: code, Description: description}
}

// Wrap attaches a cause to a GatewayError while preserving its code.
func Wrap(code Code, description string, cause error) *GatewayError {
	return &GatewayError{Code: code, Description: description, cause: cause}
}

func (e *GatewayError) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Description
}

func (e *GatewayError) Unwrap() error { return e.cause }

// ToHTTPStatus maps a Code to its HTTP status, per spec.md §7 / SPEC_FULL §7.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnsupportedImage, CodeWcsError, CodeIO, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As reports whether err is a *GatewayError, or wraps one through a chain
// of single-error Unwrap() methods, and returns it. Multi-error wrappers
// such as errors.Join are not searched.
func As(err error) (*GatewayError, bool) {
	for err != nil {
		if ge, ok := err.(*GatewayError); ok {
			return ge, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
