package errutil

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// AbortWithError normalises a domain error into a JSON response so handlers
// can safely return it to the transport layer.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var base BaseError
	if errors.As(err, &base) {
		c.AbortWithStatusJSON(base.Code.HTTPCode(), base.JSON())
		return
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		c.AbortWithStatusJSON(coder.Status().HTTPCode(), gin.H{
			"error": gin.H{"code": coder.Status(), "message": err.Error()},
		})
		return
	}

	c.AbortWithStatusJSON(StatusInternal.HTTPCode(), gin.H{
		"error": gin.H{"code": StatusInternal, "message": err.Error()},
	})
}
