package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/healthdesk/clinic-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{Status: "success", Data: data})
}

// Error maps the application error taxonomy onto HTTP statuses.
// Lifecycle and validation errors are caller mistakes; everything else
// is a server-side problem.
func Error(c *gin.Context, err error) {
	var status int
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrValidation:
		status = http.StatusBadRequest
	case errors.ErrInvalidTransition:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{Status: "error", Message: err.Error()})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Status: "error", Message: message})
}
