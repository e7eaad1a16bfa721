package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pixbridge/pkg/admin"
	"pixbridge/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// AdminAuth accepts either the shared admin secret or a JWT issued by
// LoginHandler.
type AdminAuth struct {
	sharedSecret  []byte
	jwtSecret     []byte
	adminUsername string
	adminPassHash []byte
	expiryHours   int
}

// NewAdminAuth creates the admin authenticator from configuration.
func NewAdminAuth(cfg *config.Config) *AdminAuth {
	return &AdminAuth{
		sharedSecret:  []byte(cfg.AdminSecret),
		jwtSecret:     []byte(cfg.JWTSecret),
		adminUsername: cfg.AdminUser,
		adminPassHash: []byte(cfg.AdminHash),
		expiryHours:   cfg.SessionDurationHours,
	}
}

// LoginRequest represents the login payload
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler handles user authentication and issues a JWT.
func (a *AdminAuth) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if len(a.adminPassHash) == 0 || req.Username != a.adminUsername {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword(a.adminPassHash, []byte(req.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": req.Username,
		"iss":      "pixbridge",
		"exp":      now.Add(time.Duration(a.expiryHours) * time.Hour).Unix(),
		"iat":      now.Unix(),
	})

	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to sign token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tokenString})
}

// Middleware rejects admin requests without a valid credential.
func (a *AdminAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.authorize(c); err != nil {
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Next()
	}
}

func (a *AdminAuth) authorize(c *gin.Context) error {
	bearer := bearerToken(c.GetHeader("Authorization"))

	candidates := []string{c.Query("secret"), c.GetHeader("X-Admin-Secret"), bearer, bodySecret(c)}
	for _, candidate := range candidates {
		if a.matchesSecret(candidate) {
			c.Set("username", "shared-secret")
			return nil
		}
	}

	if bearer == "" {
		return admin.ErrUnauthorized
	}
	token, err := jwt.Parse(bearer, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return admin.ErrUnauthorized
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		c.Set("username", claims["username"])
	}
	return nil
}

func (a *AdminAuth) matchesSecret(candidate string) bool {
	if len(a.sharedSecret) == 0 || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), a.sharedSecret) == 1
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// bodySecret reads the "secret" field of a JSON body. The body is cached so
// handlers can bind it again.
func bodySecret(c *gin.Context) string {
	if c.Request.Method == http.MethodGet || c.ContentType() != binding.MIMEJSON {
		return ""
	}
	var body struct {
		Secret string `json:"secret"`
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return body.Secret
}

// SecurityHeaders returns a middleware that sets security headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}
