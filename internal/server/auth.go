package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Employee-Id without a token. Development only.
	AllowActorHeader bool
	Logger           *slog.Logger
}

// Principal is the authenticated employee behind a request.
type Principal struct {
	EmployeeID int64
	Source     string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (int64, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.EmployeeID != 0 {
		return p.EmployeeID, nil
	}
	return 0, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", nil)
}

// IssueToken signs an HS256 token whose subject is the employee id.
func IssueToken(secret string, employeeID int64, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(employeeID, 10),
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "agrotasks",
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, errors.New("subject must be an employee id")
	}
	return Principal{EmployeeID: id, Source: "jwt"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			ctx := req.Context()

			if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Debug("rejected token", "err", err)
					respondStatusError(w, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(ctx, principal)))
				return
			}

			if header := strings.TrimSpace(req.Header.Get("X-Employee-Id")); header != "" && cfg.AllowActorHeader {
				id, err := strconv.ParseInt(header, 10, 64)
				if err != nil || id <= 0 {
					respondStatusError(w, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", nil))
					return
				}
				cfg.logger().Warn("using X-Employee-Id header without authentication", "employee_id", id)
				next.ServeHTTP(w, req.WithContext(withPrincipal(ctx, Principal{EmployeeID: id, Source: "header"})))
				return
			}

			respondStatusError(w, newAPIError(ctx, http.StatusUnauthorized, "unauthorized", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
