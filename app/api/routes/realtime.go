package routes

import (
	"strings"

	"github.com/deskhub/pkg/broadcast"
	"github.com/deskhub/pkg/middleware"
	"github.com/deskhub/pkg/state"
	"github.com/gin-gonic/gin"
)

// RealtimeRoutes upgrades to a websocket streaming the tenant's events.
// ?topics=ticket,message narrows the stream.
func RealtimeRoutes(r *gin.RouterGroup, hub *broadcast.Hub) {
	r.GET("", middleware.CheckAuth(), func(c *gin.Context) {
		var kinds []string
		if raw := c.Query("topics"); raw != "" {
			kinds = strings.Split(raw, ",")
		}
		// the upgrader has already answered on failure
		_ = hub.Serve(c.Writer, c.Request, state.CurrentTenant(c), kinds)
	})
}
