package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"live-quiz-service/internal/domain"
)

// claims is the JWT payload: the subject is the user id, name the display name.
type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Issuer mints HS256 tokens for development and tests.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for who.
func (i *Issuer) Issue(who domain.Identity) (string, error) {
	if who.Anonymous() {
		return "", errors.New("token subject is required")
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   who.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: who.DisplayName,
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verifier checks HS256 tokens and turns them into caller identities.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify returns the identity carried by raw. Any failure is domain.ErrUnauthenticated.
func (v *Verifier) Verify(raw string) (domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, domain.Wrap(domain.CodeUnauthenticated, "invalid token", err)
	}
	if parsed.Subject == "" || parsed.ExpiresAt == nil {
		return domain.Identity{}, domain.Wrap(domain.CodeUnauthenticated, "token lacks subject or expiry", nil)
	}
	name := parsed.Name
	if name == "" {
		name = parsed.Subject
	}
	return domain.Identity{ID: parsed.Subject, DisplayName: name}, nil
}
