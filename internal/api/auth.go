package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lifelinehq/lifeline/internal/models"
)

const supervisorKey = "supervisor"

// supervisorAuth resolves the bearer token to a supervisor row and
// aborts with 401 when it can't.
func supervisorAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		var sup models.Supervisor
		if err := db.Where("token = ?", token).First(&sup).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(supervisorKey, sup)
		c.Next()
	}
}

// currentSupervisor returns the supervisor resolved by supervisorAuth.
func currentSupervisor(c *gin.Context) models.Supervisor {
	v, _ := c.Get(supervisorKey)
	sup, _ := v.(models.Supervisor)
	return sup
}

// canView reports whether sup may see inc. An incident is visible to
// the supervisor who has taken it over, or, while unassigned, to any
// supervisor in the reporting worker's org. Derived workers have no
// roster row and no org, so their unassigned incidents are visible to
// everyone.
func canView(db *gorm.DB, sup models.Supervisor, inc models.Incident) bool {
	if inc.SupervisorID != "" {
		return inc.SupervisorID == sup.ID
	}

	var worker models.Worker
	if err := db.Where("id = ?", inc.WorkerID).First(&worker).Error; err != nil {
		return true
	}
	return worker.Org == sup.Org
}
