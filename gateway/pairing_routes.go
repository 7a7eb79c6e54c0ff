package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gatewaycore/pairing"
)

// registerPairingRoutes mounts the out-of-band DM approval endpoints a
// gateway owner's control surface calls: list pending requests, approve or
// reject one by its short code.
func registerPairingRoutes(r *gin.Engine, store *pairing.Store) {
	group := r.Group("/pairing")
	group.GET("/pending", func(c *gin.Context) {
		pending, err := store.ListPending()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	})

	group.POST("/approve", func(c *gin.Context) { resolvePairing(c, store.Approve) })
	group.POST("/reject", func(c *gin.Context) { resolvePairing(c, store.Reject) })
}

type resolvePairingRequest struct {
	Channel string `json:"channel"`
	Code    string `json:"code"`
}

func resolvePairing(c *gin.Context, resolve func(channel, code string) (bool, error)) {
	var req resolvePairingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	found, err := resolve(req.Channel, req.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching pending request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
