package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Parse failures. Callers distinguish them with errors.Is; all three are terminal for the token.
var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenBadSignature = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token. Subject is the account id.
type AccessClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// RefreshClaims holds JWT claims for the refresh token. Subject is the account id; jti makes
// every issued refresh token unique even within the same second.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Profile is the non-secret account data embedded in access tokens.
type Profile struct {
	Username string
	Email    string
	FullName string
}

// IssuedToken is a signed token and the metadata the caller may want to surface.
type IssuedToken struct {
	Value     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and parses HS256 access and refresh tokens. Access and refresh tokens are
// signed with different secrets, so one can never be accepted in place of the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenCodec returns a TokenCodec. Both secrets must be non-empty and distinct; TTLs must be positive.
func NewTokenCodec(accessSecret, refreshSecret []byte, issuer string, accessTTL, refreshTTL time.Duration) (*TokenCodec, error) {
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		return nil, errors.New("token codec: access and refresh secrets are required")
	}
	if string(accessSecret) == string(refreshSecret) {
		return nil, errors.New("token codec: access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token codec: token TTLs must be positive")
	}
	return &TokenCodec{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		issuer:        issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// IssueAccess issues a short-lived access token for subjectID carrying the given profile claims.
func (c *TokenCodec) IssueAccess(subjectID string, p Profile) (IssuedToken, error) {
	now := c.now().UTC()
	reg := c.registered(subjectID, now, c.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: reg,
		Username:         p.Username,
		Email:            p.Email,
		FullName:         p.FullName,
	}
	return c.sign(claims, reg, c.accessSecret)
}

// IssueRefresh issues a long-lived refresh token for subjectID.
func (c *TokenCodec) IssueRefresh(subjectID string) (IssuedToken, error) {
	now := c.now().UTC()
	reg := c.registered(subjectID, now, c.refreshTTL)
	return c.sign(RefreshClaims{RegisteredClaims: reg}, reg, c.refreshSecret)
}

// ParseAccess verifies an access token and returns its claims.
func (c *TokenCodec) ParseAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parseAndVerify(tokenString, c.accessSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (c *TokenCodec) ParseRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.parseAndVerify(tokenString, c.refreshSecret, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *TokenCodec) registered(subjectID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subjectID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *TokenCodec) sign(claims jwt.Claims, reg jwt.RegisteredClaims, secret []byte) (IssuedToken, error) {
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		Value:     value,
		ID:        reg.ID,
		IssuedAt:  reg.IssuedAt.Time,
		ExpiresAt: reg.ExpiresAt.Time,
	}, nil
}

// parseAndVerify decodes tokenString into claims and checks expiry, signature and issuer.
// Expiry is checked on the unverified claims first: a token past its exp reports ErrTokenExpired
// whether or not its signature is valid.
func (c *TokenCodec) parseAndVerify(tokenString string, secret []byte, claims jwt.Claims) error {
	if tokenString == "" {
		return ErrTokenMalformed
	}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ErrTokenMalformed
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ErrTokenMalformed
	}
	now := c.now()
	if !now.Before(exp.Time) {
		return ErrTokenExpired
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	switch {
	case err == nil && token.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
