package gateway

import (
	"fmt"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders sets the fixed response headers spec §4.8 requires on
// every HTTP response. hstsMaxAge is only applied when tlsActive is true —
// advertising HSTS over plain HTTP would be actively wrong.
func securityHeaders(tlsActive bool, hstsMaxAge int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'none'")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if tlsActive {
				h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", hstsMaxAge))
			}
			return next(c)
		}
	}
}
