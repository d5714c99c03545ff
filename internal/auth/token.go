// Package auth issues and verifies the HS256 bearer tokens that carry the
// caller's user id in the "sub" claim.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mesh-intelligence/journey/pkg/types"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 30 * 24 * time.Hour

// LinkTTL is the lifetime of chat link tokens.
const LinkTTL = 10 * time.Minute

const linkAudience = "telegram-link"

var errNoSecret = errors.New("jwt secret is not configured")

// Tokens signs and checks tokens with one shared secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns a Tokens for secret.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

// Issue returns a signed bearer token for userID. A non-positive ttl uses
// DefaultTTL.
func (t *Tokens) Issue(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token, _, err := t.sign(userID, ttl, nil)
	return token, err
}

// IssueLink returns a short-lived token that links a chat to userID when the
// chat sends it to the bot. It is not accepted as a bearer token.
func (t *Tokens) IssueLink(userID string) (string, time.Time, error) {
	return t.sign(userID, LinkTTL, jwt.ClaimStrings{linkAudience})
}

func (t *Tokens) sign(userID string, ttl time.Duration, audience jwt.ClaimStrings) (string, time.Time, error) {
	if len(t.secret) == 0 {
		return "", time.Time{}, errNoSecret
	}
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty user id", types.ErrInvalidData)
	}
	now := t.now()
	expires := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  audience,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify checks a bearer token's signature and expiry and returns the
// subject. Every failure wraps types.ErrAuthRequired.
func (t *Tokens) Verify(token string) (string, error) {
	claims, err := t.parse(token)
	if err != nil {
		return "", err
	}
	if len(claims.Audience) > 0 {
		return "", fmt.Errorf("%w: not a bearer token", types.ErrAuthRequired)
	}
	return claims.Subject, nil
}

// VerifyLink checks a token made by IssueLink and returns the subject.
func (t *Tokens) VerifyLink(token string) (string, error) {
	claims, err := t.parse(token, jwt.WithAudience(linkAudience))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (t *Tokens) parse(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	if len(t.secret) == 0 {
		return nil, fmt.Errorf("%w: %v", types.ErrAuthRequired, errNoSecret)
	}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrAuthRequired, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", types.ErrAuthRequired)
	}
	return claims, nil
}
