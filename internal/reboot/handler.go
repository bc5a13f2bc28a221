package reboot

import (
	"crypto/subtle"
	"net/http"

	"github.com/dl-alexandre/cloudmirror/internal/logging"
	"github.com/gin-gonic/gin"
)

// Invalidator is anything holding state derived from the mirror
type Invalidator interface {
	Invalidate()
}

// Handler answers GET /reboot. A matching pass phrase clears the cache; any
// other request gets a 404 so the endpoint does not advertise itself.
func Handler(passPhrase string, cache Invalidator, logger logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return func(c *gin.Context) {
		pass := c.Query(passParam)
		if passPhrase == "" || subtle.ConstantTimeCompare([]byte(pass), []byte(passPhrase)) != 1 {
			c.String(http.StatusNotFound, "404 page not found")
			return
		}
		cache.Invalidate()
		logger.Info("Content cache invalidated", logging.F("remote", c.ClientIP()))
		c.String(http.StatusOK, "reboot complete.")
	}
}
