package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// corsMiddleware 包含 "*" 或沒有設定來源時允許所有來源
func corsMiddleware(origins []string) (gin.HandlerFunc, error) {
	const op = "corsMiddleware"
	config := cors.Config{
		AllowMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || lo.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("[%s] Invalid CORS origins, err=%w", op, err)
	}
	return cors.New(config), nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}
