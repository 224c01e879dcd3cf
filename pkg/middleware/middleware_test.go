package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deskhub/pkg/state"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", CheckAuth(), func(c *gin.Context) {
		c.JSON(200, gin.H{"tenant": state.CurrentTenant(c)})
	})
	return r
}

func do(r http.Handler, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheckAuth(t *testing.T) {
	t.Setenv("SECRET", "test-secret")
	r := router()
	exp := time.Now().Add(time.Hour).Unix()

	valid := signed(t, jwt.MapClaims{"tenant_id": 4, "exp": exp})
	w := do(r, "/whoami", "Bearer "+valid)
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"tenant":4}`, w.Body.String())

	w = do(r, "/whoami?token="+valid, "")
	assert.Equal(t, 200, w.Code)

	assert.Equal(t, 401, do(r, "/whoami", "").Code)
	assert.Equal(t, 400, do(r, "/whoami", "Token "+valid).Code)
	assert.Equal(t, 401, do(r, "/whoami", "Bearer not-a-jwt").Code)

	expired := signed(t, jwt.MapClaims{"tenant_id": 4, "exp": time.Now().Add(-time.Hour).Unix()})
	assert.Equal(t, 401, do(r, "/whoami", "Bearer "+expired).Code)

	noTenant := signed(t, jwt.MapClaims{"id": 1, "exp": exp})
	assert.Equal(t, 403, do(r, "/whoami", "Bearer "+noTenant).Code)
}

func TestCheckAuthRejectsOtherSecret(t *testing.T) {
	t.Setenv("SECRET", "another-secret")

	token := signed(t, jwt.MapClaims{"tenant_id": 4, "exp": time.Now().Add(time.Hour).Unix()})

	assert.Equal(t, 401, do(router(), "/whoami", "Bearer "+token).Code)
}
