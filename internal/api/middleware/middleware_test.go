package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/stars-service/stars_service/internal/infrastructure/config"
	"github.com/stars-service/stars_service/pkg/logger"
)

func signedRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/alchemy/ethereum", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func webhookRouter(cfg config.PaymentConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(WebhookSignature(cfg, logger.NewNop()))
	router.POST("/webhooks/:provider/:chain", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestWebhookSignature(t *testing.T) {
	secret := "provider_secret"
	cfg := config.PaymentConfig{ProviderSecrets: map[string]string{"alchemy": secret}}
	body := []byte(`{"tx_hash":"0xabc"}`)

	t.Run("valid signature passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		webhookRouter(cfg).ServeHTTP(w, signedRequest(t, secret, body))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		webhookRouter(cfg).ServeHTTP(w, signedRequest(t, "other_secret", body))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/alchemy/ethereum", bytes.NewReader(body))
		w := httptest.NewRecorder()
		webhookRouter(cfg).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		req := signedRequest(t, secret, body)
		req.URL.Path = "/webhooks/stranger/ethereum"
		w := httptest.NewRecorder()
		webhookRouter(cfg).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestValidSignatureConstantTimeCompare(t *testing.T) {
	body := []byte(`payload`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, validSignature("secret", body, sig))
	assert.False(t, validSignature("secret", body, ""))
	assert.False(t, validSignature("secret", []byte(`tampered`), sig))
}
