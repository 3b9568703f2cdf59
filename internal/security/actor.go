package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified token payload used for actor attribution.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns the attribution string recorded in audit entries: the
// email when the token carries one, otherwise the subject.
func (c *Claims) Actor() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// ActorTokenParser verifies HMAC-signed bearer tokens and extracts the
// caller identity. It answers "who", never "may they"; authorization
// is not this service's concern.
type ActorTokenParser struct {
	secret []byte
}

// NewActorTokenParser returns nil when no secret is configured, which
// disables token-based attribution entirely.
func NewActorTokenParser(secret string) *ActorTokenParser {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &ActorTokenParser{secret: []byte(secret)}
}

func (p *ActorTokenParser) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if claims.Actor() == "" {
		return nil, errors.New("token carries no identity")
	}
	return claims, nil
}
