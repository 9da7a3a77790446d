package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/apperrors"
)

// HeaderToken carries the session JWT issued by the auth service.
const HeaderToken = "x-token"

const userIDKey = "user_id"

// Claims is the token payload the auth service signs.
type Claims struct {
	UID  string `json:"uid"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Auth verifies the HS256 token in the x-token header and stores the uid
// claim as the request's user id. Tokens are only verified here; they are
// issued elsewhere.
func Auth(secret string) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderToken)
		if raw == "" {
			abort(c, http.StatusUnauthorized, apperrors.CodeTokenRequired, "no token in request")
			return
		}

		var claims Claims
		token, err := parser.ParseWithClaims(raw, &claims, keyFunc)
		if err != nil || !token.Valid || claims.UID == "" {
			abort(c, http.StatusUnauthorized, apperrors.CodeInvalidToken, "invalid token")
			return
		}

		c.Set(userIDKey, claims.UID)
		c.Next()
	}
}

// UserID returns the user id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// SetUserID stores id as the request's user id.
func SetUserID(c *gin.Context, id string) {
	c.Set(userIDKey, id)
}

// IssueToken signs a token for uid. The service never issues tokens to
// clients; this exists for tests and local tooling.
func IssueToken(secret, uid string, claims jwt.RegisteredClaims) (string, error) {
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UID: uid, RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message, "code": code})
}
