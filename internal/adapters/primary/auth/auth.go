package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ggg436/greenloops/feed-sync/internal/core/domain"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// ViewerClaims are the claims of an access token issued by the identity service.
type ViewerClaims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// Validator checks RS256 access tokens against the identity service public key.
type Validator struct {
	publicKey *rsa.PublicKey
}

func NewValidator(publicKeyPEM []byte) (*Validator, error) {
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &Validator{publicKey: pubKey}, nil
}

// Validate verifies the signature and returns the viewer the token was issued to.
func (v *Validator) Validate(tokenString string) (domain.Viewer, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ViewerClaims{}, func(token *jwt.Token) (any, error) {
		// Refuse anything but RSA so "none" or HS256 tokens cannot be forged with the public key.
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return domain.Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ViewerClaims)
	if !ok || !token.Valid {
		return domain.Viewer{}, ErrInvalidToken
	}
	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return domain.Viewer{}, ErrInvalidToken
	}
	return domain.Viewer{ID: id, DisplayName: claims.Username, AvatarURL: claims.AvatarURL}, nil
}

// Private context key type avoids collisions.
type contextKey struct{ name string }

var viewerCtxKey = &contextKey{"viewer"}

// Middleware resolves the viewer from "Authorization: Bearer <token>" or, for browser
// websocket clients that cannot set headers, from the access_token query parameter.
// Requests without a token go through anonymously.
func Middleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := r.URL.Query().Get("access_token")
			if header := r.Header.Get("Authorization"); header != "" {
				if !strings.HasPrefix(header, "Bearer ") {
					http.Error(w, "Invalid token format", http.StatusUnauthorized)
					return
				}
				tokenStr = strings.TrimPrefix(header, "Bearer ")
			}

			if tokenStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			viewer, err := validator.Validate(tokenStr)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
		})
	}
}

func WithViewer(ctx context.Context, viewer domain.Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey, viewer)
}

// ForContext returns the authenticated viewer, or the anonymous viewer.
func ForContext(ctx context.Context) domain.Viewer {
	viewer, _ := ctx.Value(viewerCtxKey).(domain.Viewer)
	return viewer
}
