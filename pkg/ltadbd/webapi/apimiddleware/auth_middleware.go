package apimiddleware

import (
	"crypto/rsa"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// DefaultAudience is the token audience every route requires.
const DefaultAudience = "long-term-archive"

// Role is an authorization level carried in the token's
// resource_access.long-term-archive.roles claim.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
	RoleReadOnly Role = "read-only"
)

// AuthConfig selects the verification mode: a shared HS256 secret for CI and
// tests, or RS256 against the issuer's public key for deployments.
type AuthConfig struct {
	Secret        string
	Issuer        string
	PublicKeyFile string
	Audience      string

	publicKey *rsa.PublicKey
}

// NewAuthConfig validates the configuration and loads the RS256 public key
// when that mode is selected.
func NewAuthConfig(secret, issuer, publicKeyFile, audience string) (*AuthConfig, error) {
	cfg := &AuthConfig{
		Secret:        secret,
		Issuer:        issuer,
		PublicKeyFile: publicKeyFile,
		Audience:      audience,
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}

	if cfg.Secret != "" {
		return cfg, nil
	}

	if cfg.Issuer == "" || cfg.PublicKeyFile == "" {
		return nil, errors.New("auth requires either a shared secret or an issuer and public key file")
	}

	pem, err := os.ReadFile(cfg.PublicKeyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading public key %s", cfg.PublicKeyFile)
	}
	cfg.publicKey, err = jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing public key %s", cfg.PublicKeyFile)
	}

	return cfg, nil
}

// RequireRole returns middleware enforcing the bearer token and a minimum
// authorization level. Reads accept any known role; writes require
// admin or system; deletes require admin.
func RequireRole(cfg *AuthConfig, allowed ...Role) echo.MiddlewareFunc {
	allowedSet := make(map[Role]bool, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			tokenString, err := bearerToken(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims, err := cfg.verify(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			roles := rolesFromClaims(claims, cfg.Audience)
			for _, role := range roles {
				if allowedSet[role] {
					ctx.Set("roles", roles)
					return next(ctx)
				}
			}

			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		}
	}
}

func bearerToken(ctx echo.Context) (string, error) {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("Authorization header is not a bearer token")
	}

	return header[len(prefix):], nil
}

func (cfg *AuthConfig) verify(tokenString string) (jwt.MapClaims, error) {
	var (
		keyFunc jwt.Keyfunc
		methods []string
	)

	if cfg.Secret != "" {
		keyFunc = func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }
		methods = []string{"HS256"}
	} else {
		keyFunc = func(*jwt.Token) (any, error) { return cfg.publicKey, nil }
		methods = []string{"RS256"}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenString, keyFunc, options...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	return claims, nil
}

// rolesFromClaims walks resource_access.<audience>.roles, the claim shape
// the identity provider issues for service clients.
func rolesFromClaims(claims jwt.MapClaims, audience string) []Role {
	resourceAccess, ok := claims["resource_access"].(map[string]any)
	if !ok {
		return nil
	}
	client, ok := resourceAccess[audience].(map[string]any)
	if !ok {
		return nil
	}
	rawRoles, ok := client["roles"].([]any)
	if !ok {
		return nil
	}

	var roles []Role
	for _, raw := range rawRoles {
		if s, ok := raw.(string); ok {
			roles = append(roles, Role(s))
		}
	}

	return roles
}
