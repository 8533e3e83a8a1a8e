package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleBillingRun triggers the monthly batch manually and returns the
// aggregate. The run is idempotent per landlord and period, so an operator
// can fire it again after fixing a failed landlord's data.
func (s *Server) HandleBillingRun(c *gin.Context) {
	result, err := s.scheduler.RunMonthlyBilling(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
