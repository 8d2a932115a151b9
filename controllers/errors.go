package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"Companion/pkg/apperr"
)

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) (int, gin.H) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		return status, gin.H{"msg": err.Error()}
	case http.StatusNotFound:
		return status, gin.H{"msg": "session not found"}
	case http.StatusServiceUnavailable:
		return status, gin.H{"msg": "could not save right now, please try again", "retryable": true}
	default:
		return status, gin.H{"msg": "internal error"}
	}
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := errorBody(err)
	c.JSON(status, body)
}
