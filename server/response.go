package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/voxpipe/job"
	"github.com/skillsenselab/voxpipe/transcription"
)

// DataResponse is the standard success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithError maps err to an HTTP status and structured body. Queue
// sentinels and transcription errors get specific statuses; anything else is
// a generic 500.
func RespondWithError(c *gin.Context, err error) {
	status, code := classifyError(err)
	c.JSON(status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: err.Error(),
	}})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, job.ErrNotRequeue), errors.Is(err, job.ErrAlreadyDone):
		return http.StatusConflict, "conflict"
	case errors.Is(err, job.ErrQueueStopped):
		return http.StatusServiceUnavailable, "unavailable"
	}

	var terr *transcription.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transcription.KindUnconfigured:
			return http.StatusConflict, string(terr.Kind)
		case transcription.KindUnsupportedLanguage, transcription.KindPayloadTooLarge:
			return http.StatusBadRequest, string(terr.Kind)
		case transcription.KindInvalidCredential, transcription.KindQuotaExceeded, transcription.KindUnreachable:
			return http.StatusBadGateway, string(terr.Kind)
		}
	}
	return http.StatusInternalServerError, "internal"
}

// RespondBadRequest sends a 400 with a validation error message.
func RespondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
		Code:    "bad_request",
		Message: err.Error(),
	}})
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// RespondCreated sends a 201 response wrapping data.
func RespondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, DataResponse{Data: data})
}

// RespondAccepted sends a 202 response wrapping data.
func RespondAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, DataResponse{Data: data})
}

// RespondNoContent sends a 204 with no body.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
