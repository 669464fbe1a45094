package auth

import (
	"errors"
	"strings"
)

var (
	// ErrAuthRequired is returned when no credential was presented.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInvalidToken is returned when the credential is malformed, expired or forged.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
}

// Authenticator verifies handshake credentials. The socket is a separate channel
// from any earlier HTTP login, so every connection is verified on its own.
type Authenticator struct {
	jwtConfig *JWTConfig
}

// NewAuthenticator creates an authenticator for tokens signed with jwtConfig.
func NewAuthenticator(jwtConfig *JWTConfig) *Authenticator {
	return &Authenticator{jwtConfig: jwtConfig}
}

// Authenticate resolves a raw token into an identity.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrAuthRequired
	}

	claims, err := ValidateToken(a.jwtConfig, token)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}

	return identityFromClaims(claims), nil
}

// TokenFromHeader extracts the credential from an "Authorization: Bearer <token>" value.
func TokenFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func identityFromClaims(claims *Claims) Identity {
	name := claims.UserMetadata.Name
	if name == "" {
		name = claims.Name
	}
	if name == "" {
		name = claims.Email
	}
	return Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: name,
	}
}
