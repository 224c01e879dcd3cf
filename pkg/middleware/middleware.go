package middleware

import (
	"os"
	"strings"
	"time"

	"github.com/deskhub/pkg/constant"
	"github.com/deskhub/pkg/state"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

func ClaimIp() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(state.CurrentUserIP, c.ClientIP())
		c.Next()
	}
}

// CheckAuth validates the bearer token and puts its tenant_id claim on the
// context. Browsers cannot set headers on websocket upgrades, so a "token"
// query parameter is accepted as well.
func CheckAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		myJwt, ok := bearer(c)
		if !ok {
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(myJwt, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(os.Getenv("SECRET")), nil
		})

		if err != nil {
			c.JSON(401, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		if !token.Valid {
			c.JSON(401, gin.H{"error": "Token is not valid"})
			c.Abort()
			return
		}

		if exp, ok := claims["exp"].(float64); !ok || float64(time.Now().Unix()) > exp {
			c.JSON(401, gin.H{"error": "Token expired"})
			c.Abort()
			return
		}

		tenantID, ok := claims["tenant_id"].(float64)
		if !ok || tenantID < 1 {
			c.JSON(403, gin.H{"error": constant.UNAUTHORIZED_ACCESS})
			c.Abort()
			return
		}
		c.Set(state.CurrentTenantId, uint(tenantID))

		c.Next()
	}
}

func bearer(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, true
		}
		c.JSON(401, gin.H{"error": "Token is required"})
		c.Abort()
		return "", false
	}

	authToken := strings.Split(authHeader, " ")
	if len(authToken) != 2 || authToken[0] != "Bearer" {
		c.JSON(400, gin.H{"error": "Invalid/Malformed auth token"})
		c.Abort()
		return "", false
	}
	return authToken[1], true
}
