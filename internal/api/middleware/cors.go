package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines CORS configuration options.
type CORSConfig struct {
	AllowOrigins []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows read-only access from any origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Accept", "Origin", "Cache-Control"},
		MaxAge:       time.Hour,
	}
}

// CORS creates a CORS middleware for the status endpoints. Only GET, HEAD and
// preflight requests are allowed and credentials are never exposed.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = DefaultCORSConfig().AllowOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     cfg.AllowHeaders,
		AllowCredentials: false,
		MaxAge:           cfg.MaxAge,
	})
}
