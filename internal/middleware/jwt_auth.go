package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mir00r/subscriber-dbi/internal/config"
	"github.com/mir00r/subscriber-dbi/pkg/logger"
)

// JWTAuthMiddleware requires an HS256 bearer token on every request that can
// change state. Safe methods pass through unauthenticated.
type JWTAuthMiddleware struct {
	secret []byte
	issuer string
	logger *logger.Logger
}

// NewJWTAuthMiddleware creates the middleware. A disabled config yields nil,
// whose JWTAuth is a pass-through.
func NewJWTAuthMiddleware(cfg config.JWTConfig, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	jm := &JWTAuthMiddleware{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		logger: logger.OrNop(log).MiddlewareLogger("jwt_auth"),
	}
	jm.logger.WithField("issuer", cfg.Issuer).Info("JWT authentication middleware initialized")
	return jm, nil
}

// SubjectFromContext returns the token subject of an authenticated request
func SubjectFromContext(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey).(string)
	return sub
}

// JWTAuth returns the JWT authentication middleware
func (jm *JWTAuthMiddleware) JWTAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if jm == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				jm.logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT token missing")
				writeJWTError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := jm.validateToken(token)
			if err != nil {
				jm.logger.WithFields(map[string]interface{}{
					"error":  err.Error(),
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT validation failed")
				writeJWTError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			jm.logger.WithFields(map[string]interface{}{
				"subject": claims.Subject,
				"path":    r.URL.Path,
				"method":  r.Method,
			}).Debug("JWT authentication successful")

			r = r.WithContext(context.WithValue(r.Context(), subjectKey, claims.Subject))
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a token for subject valid for ttl
func (jm *JWTAuthMiddleware) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    jm.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jm.secret)
}

func (jm *JWTAuthMiddleware) validateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// RegisteredClaims.Valid does not check the issuer
	if jm.issuer != "" && !claims.VerifyIssuer(jm.issuer, true) {
		return nil, fmt.Errorf("invalid issuer")
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("token has no expiry")
	}

	return claims, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// extractToken reads a bearer token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

func writeJWTError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    "UNAUTHENTICATED",
		"message": message,
	})
}
