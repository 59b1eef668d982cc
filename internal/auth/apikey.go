package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
)

// keyCtxKey is the Gin context key used to store the authenticated API key.
const keyCtxKey = "api_key"

// HeaderAPIKey carries the API key on HTTP requests.
const HeaderAPIKey = "X-API-Key"

// Capability is a named permission carried by an API key.
type Capability string

const (
	CapCreateTickets Capability = "create"
	CapReadTickets   Capability = "read"
)

// APIKey is a configured key and what it may do.
type APIKey struct {
	Label        string
	Key          string
	Capabilities map[Capability]bool
}

// Can reports whether the key carries capability c.
func (k *APIKey) Can(c Capability) bool {
	return k != nil && k.Capabilities[c]
}

// KeyStore resolves raw API keys.
type KeyStore interface {
	LookupKey(ctx context.Context, raw string) (*APIKey, bool)
}

// KeyRing is a static KeyStore built from configuration.
type KeyRing map[string]*APIKey

func (r KeyRing) LookupKey(_ context.Context, raw string) (*APIKey, bool) {
	k, ok := r[raw]
	return k, ok
}

// KeyMiddleware rejects requests whose X-API-Key is unknown or lacks
// capability. fail renders the rejection in the route's own format.
func KeyMiddleware(g *Gate, capability Capability, fail func(*gin.Context, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := g.RequireKey(c.Request.Context(), c.GetHeader(HeaderAPIKey), capability)
		if err != nil {
			fail(c, err)
			c.Abort()
			return
		}
		c.Set(keyCtxKey, key)
		c.Next()
	}
}

// Key returns the authenticated API key from the request context.
func Key(c *gin.Context) *APIKey {
	v, _ := c.Get(keyCtxKey)
	k, _ := v.(*APIKey)
	return k
}

func errKeyNotAuthorized() error {
	return apierr.Unauthorized("API key not authorized")
}

func normalizeKey(raw string) string {
	return strings.TrimSpace(raw)
}
