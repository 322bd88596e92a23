package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/repository"
	"golang.org/x/crypto/bcrypt"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	AuthenticatedProjectContextKey = ContextKey("authenticatedProject")
)

// AuthenticatedProject holds the tenant resolved from the request credentials.
type AuthenticatedProject struct {
	ID   string
	Name string
}

// ProjectClaims is the JWT claim set issued to projects.
type ProjectClaims struct {
	ProjectID string `json:"project_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates requests as a project. Two schemes are
// supported on the Authorization header:
//
//	Bearer <jwt>              HS256 token carrying a project_id claim
//	ApiKey <projectID>.<key>  static key checked against the project's bcrypt hash
//
// Either way the project must exist and be active; failures are generic 401s
// so nothing about project existence leaks.
func AuthMiddleware(projectRepo repository.ProjectRepository, db repository.Querier, jwtSecret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 {
				logger.WarnContext(r.Context(), "invalid authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			var projectID string
			switch parts[0] {
			case "Bearer":
				claims := &ProjectClaims{}
				token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(jwtSecret), nil
				})
				if err != nil || !token.Valid || claims.ProjectID == "" {
					logger.WarnContext(r.Context(), "token validation failed", "error", err)
					http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
					return
				}
				projectID = claims.ProjectID
			case "ApiKey":
				id, secret, ok := strings.Cut(parts[1], ".")
				if !ok || id == "" || secret == "" {
					logger.WarnContext(r.Context(), "malformed api key")
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				projectID = id
				project, err := projectRepo.GetByID(r.Context(), db, id)
				if err != nil {
					logger.WarnContext(r.Context(), "api key project lookup failed", "error", err)
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				if err := bcrypt.CompareHashAndPassword([]byte(project.APIKeyHash), []byte(secret)); err != nil {
					logger.WarnContext(r.Context(), "api key mismatch", "project_id", id)
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
			default:
				logger.WarnContext(r.Context(), "unsupported authorization scheme", "scheme", parts[0])
				http.Error(w, "Unsupported Authorization scheme", http.StatusUnauthorized)
				return
			}

			project, err := projectRepo.GetByID(r.Context(), db, projectID)
			if err != nil {
				if errors.Is(err, domain.ErrProjectNotFound) {
					http.Error(w, "Invalid credentials", http.StatusUnauthorized)
					return
				}
				logger.ErrorContext(r.Context(), "project lookup failed", "error", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
			if !project.IsActive {
				logger.WarnContext(r.Context(), "inactive project rejected", "project_id", project.ID)
				http.Error(w, "Project inactive", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), AuthenticatedProjectContextKey, AuthenticatedProject{
				ID:   project.ID,
				Name: project.Name,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
