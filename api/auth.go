package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"verdant/adapters/oidc"
)

const identityKey = "verdant.identity"

// TokenVerifier 驗證 Bearer token 並回傳擁有者身分
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*oidc.Identity, error)
}

func authMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		const op = "authMiddleware"
		header := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "No token provided")
			return
		}
		identity, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			slog.Debug("Reject token", slog.String("op", op), slog.Any("error", err))
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		c.Set(identityKey, identity)
		slog.Debug("Token accepted", slog.String("op", op), identityAttr(identity))
		c.Next()
	}
}

// currentIdentity 目前請求通過驗證的使用者，未驗證時為 nil
func currentIdentity(c *gin.Context) *oidc.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := value.(*oidc.Identity)
	return identity
}

// ownerID 目前請求的擁有者，所有資料存取都以此為範圍
func ownerID(c *gin.Context) string {
	if identity := currentIdentity(c); identity != nil {
		return identity.Subject
	}
	return ""
}

func identityAttr(identity *oidc.Identity) slog.Attr {
	if identity == nil {
		return slog.Group("owner")
	}
	return slog.Group("owner",
		slog.String("sub", identity.Subject),
		slog.String("email", identity.Email),
		slog.String("name", identity.Name),
	)
}
