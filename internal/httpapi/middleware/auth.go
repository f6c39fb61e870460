package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noetl/noetl/internal/platform/logger"
)

// WorkerClaims is the short-lived bearer token a worker process presents to
// prove which capability tags it is entitled to serve (§1.2 domain stack
// wiring: "worker registration tokens are short-lived JWTs so a worker
// process can prove its capability-tag claims without the core needing a
// full auth subsystem"). Grounded on the teacher's JWTClaims{
// jwt.RegisteredClaims } shape, generalized with one extra field since a
// worker's identity claim here is its capability set, not a user id.
type WorkerClaims struct {
	jwt.RegisteredClaims
	CapabilityTags []string `json:"capability_tags"`
}

// IssueWorkerToken mints a WorkerClaims token signed with secret, valid for
// ttl. Exposed for operator tooling (or tests) that need to hand a worker
// process something to present; the control API itself never calls this —
// it only verifies.
func IssueWorkerToken(secret string, workerName string, capabilityTags []string, ttl time.Duration) (string, error) {
	claims := WorkerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   workerName,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		CapabilityTags: capabilityTags,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AuthMiddleware validates worker-presented bearer tokens on the
// worker/job surface of the control API (§6: register/heartbeat/lease/
// ack/nack/extend). Grounded on the teacher's AuthMiddleware.RequireAuth:
// same bearer-extraction, same ParseWithClaims-then-check-Valid shape,
// same JSON error envelope; generalized from a session-lookup-backed user
// identity to a stateless capability-tag claim since there is no user
// session concept in the execution plane.
type AuthMiddleware struct {
	log    *logger.Logger
	secret string
}

func NewAuthMiddleware(log *logger.Logger, secret string) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "auth"), secret: secret}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		claims := &WorkerClaims{}
		parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(am.secret), nil
		})
		if err != nil || !parsed.Valid {
			am.log.Warn("rejecting worker token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "invalid or expired token", "code": "unauthorized"},
			})
			return
		}
		c.Set("worker_name", claims.Subject)
		c.Set("capability_tags", claims.CapabilityTags)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	if q := c.Query("token"); q != "" {
		return q
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
