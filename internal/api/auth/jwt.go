// Package auth verifies operator access tokens issued by the external
// identity provider.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/m-mizutani/goerr/v2"
)

// Role is the operator role carried in the token.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleClinician, RoleAdmin:
		return true
	}
	return false
}

// Claims represents the JWT claims for operator tokens.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// Verifier validates HMAC-signed operator tokens.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewVerifier creates a verifier. An empty issuer skips the issuer check.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{
		secret: secret,
		issuer: issuer,
		leeway: 30 * time.Second,
	}
}

// GenerateToken signs a token for subject. It exists for tooling and tests;
// production tokens come from the identity provider.
func (v *Verifier) GenerateToken(subject, name string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", goerr.Wrap(err, "sign token")
	}
	return signed, nil
}

// ValidateToken validates a JWT token and returns the claims.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "parse token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, goerr.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, goerr.New("token has no subject")
	}
	if !claims.Role.Valid() {
		return nil, goerr.New("token has unknown role", goerr.V("role", claims.Role))
	}

	return claims, nil
}

// Allows reports whether role r may act with the required role.
// Admin satisfies every requirement and clinician satisfies viewer.
func (r Role) Allows(required Role) bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleClinician:
		return required == RoleClinician || required == RoleViewer
	case RoleViewer:
		return required == RoleViewer
	}
	return false
}
