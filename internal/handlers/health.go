package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/response"
)

// StatusSource exposes the sync coordinator state.
type StatusSource interface {
	Status() syncer.Status
}

// Health reports database reachability and the upstream/sync state. An unreachable
// spreadsheet host leaves the service healthy but degraded, since cached data is still served.
func Health(db *gorm.DB, status StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}
		code := http.StatusOK

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				payload["status"] = "unavailable"
				payload["database"] = "down"
				code = http.StatusServiceUnavailable
			} else {
				payload["database"] = "up"
			}
		}

		if status != nil {
			st := status.Status()
			payload["sync"] = st
			if !st.Online && code == http.StatusOK {
				payload["status"] = "degraded"
			}
		}

		response.Success(c, code, payload)
	}
}
