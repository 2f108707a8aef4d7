package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/config"
	obscontext "github.com/smallbiznis/invoicing/internal/observability/context"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
)

const systemSubject = "system"

var (
	ErrMissingJWTSecret = errors.New("auth jwt secret is not configured")
	ErrInvalidToken     = errors.New("invalid_token")
)

// Claims are the bearer token claims. Subject is a user id or "system".
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

// Identity is the caller resolved from a verified token.
type Identity struct {
	ActorType string
	ActorID   string
	OrgID     snowflake.ID
}

// TokenVerifier signs and verifies HS256 API tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(cfg config.Config) (*TokenVerifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		return nil, ErrMissingJWTSecret
	}
	return &TokenVerifier{secret: []byte(secret), issuer: strings.TrimSpace(cfg.AuthJWTIssuer)}, nil
}

// Issue mints a token for subject scoped to orgID.
func (v *TokenVerifier) Issue(subject string, orgID snowflake.ID, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID: orgID.String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(claims.OrgID))
	if err != nil || orgID == 0 {
		return Identity{}, ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == systemSubject {
		return Identity{ActorType: auditdomain.ActorTypeSystem, OrgID: orgID}, nil
	}
	userID, err := snowflake.ParseString(subject)
	if err != nil || userID == 0 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ActorType: auditdomain.ActorTypeUser, ActorID: userID.String(), OrgID: orgID}, nil
}

// BearerAuth verifies the Authorization header and scopes the request to the
// token's organization and actor.
func (s *Server) BearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || s.tokens == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		identity, err := s.tokens.Verify(raw)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), identity.OrgID)
		ctx = auditcontext.WithActor(ctx, identity.ActorType, identity.ActorID)
		ctx = obscontext.WithOrgID(ctx, identity.OrgID.String())
		ctx = obscontext.WithActor(ctx, identity.ActorType, identity.ActorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
