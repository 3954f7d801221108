package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"fiscalai-backend/cache"

	"github.com/gin-gonic/gin"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
)

type cachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the cached response when a client retries a mutating
// request with the same Idempotency-Key. This protects client retries only;
// the payment ledger's unique constraints remain the real idempotency
// guarantee. With no redis configured the middleware passes through.
func Idempotency(redisClient *cache.Redis) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		cacheKey := "idempotency:" + key

		if cached, err := redisClient.Get(cacheKey); err == nil && cached != "" {
			var resp cachedResponse
			if err := json.Unmarshal([]byte(cached), &resp); err == nil {
				c.Header("X-Idempotency-Replayed", "true")
				c.Data(resp.StatusCode, "application/json", []byte(resp.Body))
				c.Abort()
				return
			}
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = recorder
		c.Next()

		resp := cachedResponse{
			StatusCode: recorder.Status(),
			Body:       recorder.body.String(),
		}
		if encoded, err := json.Marshal(resp); err == nil {
			redisClient.Set(cacheKey, string(encoded), idempotencyTTL)
		}
	}
}
