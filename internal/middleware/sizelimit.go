package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/httputil"
)

// SizeLimit rejects bodies declared larger than maxBytes and caps the reader
// for bodies that do not declare a length.
func SizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			httputil.RespondWithError(c, errors.PayloadTooLarge(maxBytes))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
