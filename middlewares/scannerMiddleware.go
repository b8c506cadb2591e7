package middlewares

import (
	"strings"

	"bitbucket.org/mmdatafocus/drum_backend/utils"
	"github.com/gin-gonic/gin"
)

const ScannerHeader = "X-Scanner-Id"

// ScannerMiddleware records which handheld or station sent the request.
func ScannerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		scannerId := strings.TrimSpace(c.Request.Header.Get(ScannerHeader))
		if scannerId == "" {
			c.Next()
			return
		}
		if len(scannerId) > 64 {
			scannerId = scannerId[:64]
		}
		c.Request = c.Request.WithContext(utils.SetScannerIdInContext(c.Request.Context(), scannerId))
		c.Next()
	}
}
