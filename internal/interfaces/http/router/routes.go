package router

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/nfse-bridge/internal/interfaces/http/handler"
)

// ERPRoutes registers the OAuth flow and credential management under /erp
func ERPRoutes(h *handler.ERPHandler) *DomainGroup {
	erp := NewDomainGroup("erp", "/erp")

	oauth := erp.Group("oauth", "/oauth")
	oauth.GET("/authorize", h.Authorize)
	oauth.GET("/callback", h.Callback)

	credentials := erp.Group("credentials", "/credentials")
	credentials.PUT("", h.ConfigureCredentials)
	credentials.DELETE("", h.ClearCredentials)
	credentials.GET("/status", h.CredentialStatus)

	return erp
}

// NFSeRoutes registers batch and queue endpoints under /nfse. batchGuard runs
// in front of the endpoints that call the ERP, usually a rate limiter.
func NFSeRoutes(h *handler.NFSeHandler, batchGuard ...gin.HandlerFunc) *DomainGroup {
	guarded := func(final gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(batchGuard)+1)
		return append(append(chain, batchGuard...), final)
	}

	nfse := NewDomainGroup("nfse", "/nfse")

	nfse.POST("/generate", guarded(h.Generate)...)
	nfse.POST("/submit", guarded(h.Submit)...)
	nfse.POST("/sync", guarded(h.Sync)...)
	nfse.GET("/stats", h.Stats)

	queue := nfse.Group("queue", "/queue")
	queue.GET("", h.ListQueue)
	queue.GET("/:id", h.GetRecord)
	queue.GET("/:id/payload/:step", h.PayloadLink)

	return nfse
}

// HealthRoutes registers liveness and readiness at the engine root
func HealthRoutes(engine *gin.Engine, h *handler.HealthHandler) {
	engine.GET("/health", h.Health)
	engine.GET("/ready", h.Ready)
}
