package handler

import (
	"errors"
	"log"
	"net/http"

	"pesagate/internal/service"
	"pesagate/pkg/payment"

	"github.com/gin-gonic/gin"
)

// statusFor maps workflow errors to HTTP codes. Rejections by the processor are the caller's
// problem (400); a token failure or an unreachable processor is ours (500).
func statusFor(err error) int {
	var upstream *payment.UpstreamError
	switch {
	case errors.Is(err, payment.ErrAuth):
		return http.StatusInternalServerError
	case errors.As(err, &upstream), errors.Is(err, service.ErrInvalidNotification):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, tag string, err error) {
	code := statusFor(err)
	log.Printf("[%s] %s %s -> %d: %v", tag, c.Request.Method, c.Request.URL.Path, code, err)
	c.JSON(code, gin.H{"detail": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}
