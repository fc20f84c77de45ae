package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/pod-racer/internal/domain"
	apperrors "github.com/spec-kit/pod-racer/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	SubjectType domain.SubjectType
	// UserID is set for token callers; shared-key callers may act for any user.
	UserID string
}

// CanActFor reports whether the principal may operate on userID.
func (p *Principal) CanActFor(userID string) bool {
	if p == nil {
		return false
	}
	return p.SubjectType == domain.SubjectTypeSharedKey || p.UserID == userID
}

type credentials struct {
	Key    string `json:"key" form:"key"`
	UserID string `json:"user_id" form:"user_id"`
}

// AuthMiddleware accepts either the shared key in the request body or a bearer
// token issued for the user the request concerns.
type AuthMiddleware struct {
	keys   *KeyValidator
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(keys *KeyValidator, tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{keys: keys, tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	var creds credentials
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&creds); err != nil {
			return apperrors.NewValidationError("invalid request body", map[string]any{"error": err.Error()})
		}
	}

	if creds.Key != "" {
		if !m.keys.Valid(creds.Key) {
			return apperrors.NewUnauthorized("invalid key")
		}
		c.Locals(principalKey, &Principal{SubjectType: domain.SubjectTypeSharedKey})
		return c.Next()
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing key")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}
	if m.tokens == nil {
		return apperrors.NewUnauthorized("bearer tokens not accepted")
	}
	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	principal := &Principal{SubjectType: claims.Subject, UserID: claims.SubjectID}
	if creds.UserID != "" && !principal.CanActFor(creds.UserID) {
		return apperrors.NewForbidden("token issued for another user")
	}
	c.Locals(principalKey, principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated caller.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
