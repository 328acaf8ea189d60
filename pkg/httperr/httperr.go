package httperr

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/postqode/agentdeploy/pkg/deployment"
)

// ErrResponse renders an error as JSON with a matching status code.
type ErrResponse struct {
	Err            error `json:"-"`
	HTTPStatusCode int   `json:"-"`

	StatusText string               `json:"status"`
	Kind       deployment.ErrorKind `json:"kind,omitempty"`
	ErrorText  string               `json:"error,omitempty"`
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrUnauthorized(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusUnauthorized,
		StatusText:     "credentials required",
		ErrorText:      err.Error(),
	}
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "there is an error with your request",
		Kind:           deployment.KindValidation,
		ErrorText:      err.Error(),
	}
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: http.StatusNotFound, StatusText: "resource not found", Kind: deployment.KindNotFound}

// StatusCode maps an error kind to the HTTP status reported for it.
func StatusCode(kind deployment.ErrorKind) int {
	switch kind {
	case deployment.KindValidation, deployment.KindUnsupportedPlatform:
		return http.StatusBadRequest
	case deployment.KindNotFound:
		return http.StatusNotFound
	case deployment.KindDuplicateEnvironment, deployment.KindCancelled:
		return http.StatusConflict
	case deployment.KindPlatformUnreachable:
		return http.StatusBadGateway
	case deployment.KindVerificationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// FromError renders err according to its kind. Internal errors are not described to the caller.
func FromError(err error) render.Renderer {
	kind := deployment.KindOf(err)
	code := StatusCode(kind)
	response := &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     http.StatusText(code),
		Kind:           kind,
		ErrorText:      err.Error(),
	}
	if kind == deployment.KindInternal {
		response.ErrorText = "internal error"
	}
	return response
}
