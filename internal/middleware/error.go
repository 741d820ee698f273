package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/labcase-api/pkg/httputil"
)

// ErrorHandler renders errors attached with c.Error by handlers that did not
// write a response themselves.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
