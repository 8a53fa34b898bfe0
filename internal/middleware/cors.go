// Package middleware holds the gin middleware shared across the HTTP
// surface: CORS and reverse-proxy trust, grounded on the teacher's
// internal/middleware/cors.go.
package middleware

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a policy suited to a bearer-token API: no cookies cross
// origins, so credentials stay off and any origin may call in.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "Accept"},
		AllowAllOrigins: true,
		MaxAge:          12 * time.Hour,
	})
}

// TrustedProxies configures gin's X-Forwarded-For trust list per
// REVERSE_PROXY_IPS: only peers on this list get their forwarded headers
// honored when resolving the real client IP.
func TrustedProxies(router *gin.Engine, ips []string) {
	if len(ips) == 0 {
		_ = router.SetTrustedProxies(nil)
		return
	}
	if err := router.SetTrustedProxies(ips); err != nil {
		log.Printf("[MIDDLEWARE] invalid REVERSE_PROXY_IPS %v: %v", ips, err)
	}
}
