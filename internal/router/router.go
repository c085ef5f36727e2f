package router

import (
	"net/http"

	"reactor-lab/internal/handler"
	"reactor-lab/internal/service"

	"github.com/gin-gonic/gin"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	authHandler := handler.NewAuthHandler(svcCtx.AuthService)
	experimentHandler := handler.NewExperimentHandler(svcCtx.Config, svcCtx.Lifecycle)

	requireAuth := func(c *gin.Context) {
		token := handler.BearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID, err := svcCtx.AuthService.UserIDForToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "API is running"})
	})

	r.POST("/login", authHandler.Login)
	r.POST("/logout", requireAuth, authHandler.Logout)
	r.GET("/profile", requireAuth, authHandler.Profile)

	reactor := r.Group("/reactor", requireAuth)
	{
		reactor.POST("/upload", experimentHandler.Upload)
		reactor.GET("/experiments", experimentHandler.List)
		reactor.GET("/experiments/:id", experimentHandler.Get)
		reactor.GET("/experiments/:id/results", experimentHandler.Results)
		reactor.POST("/experiments/:id/retry", experimentHandler.Retry)
	}

	return r
}
