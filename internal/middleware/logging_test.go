package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ieraasyl/StorefrontAuth/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Run("adds request ID to response headers", func(t *testing.T) {
		handler := Logger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/auth?action=check-session", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		requestID := rec.Header().Get("X-Request-ID")
		assert.Len(t, requestID, 36, "Request ID should be a valid UUID")
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		handler := Logger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/auth", nil)
		req.Header.Set("X-Request-ID", "custom-request-id-12345")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, "custom-request-id-12345", rec.Header().Get("X-Request-ID"))
	})

	t.Run("propagates request ID through context", func(t *testing.T) {
		var fromContext string
		handler := Logger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fromContext = utils.GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/auth?action=login", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.NotEmpty(t, fromContext)
		assert.Equal(t, rec.Header().Get("X-Request-ID"), fromContext)
	})

	t.Run("passes status codes through", func(t *testing.T) {
		for _, code := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusMethodNotAllowed, http.StatusInternalServerError} {
			t.Run(http.StatusText(code), func(t *testing.T) {
				handler := Logger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(code)
				}))

				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth", nil))

				assert.Equal(t, code, rec.Code)
			})
		}
	})
}

func TestRecoverer(t *testing.T) {
	t.Run("recovers from panic with the error envelope", func(t *testing.T) {
		handler := Recoverer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("intentional panic for testing")
		}))

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth?action=login", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body utils.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Internal server error", body.Error)
		assert.NotContains(t, rec.Body.String(), "intentional")
	})

	t.Run("does not interfere with normal requests", func(t *testing.T) {
		handler := Recoverer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Success"))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Success", rec.Body.String())
	})

	t.Run("handles different panic types", func(t *testing.T) {
		testCases := []struct {
			name       string
			panicValue interface{}
		}{
			{"string panic", "error string"},
			{"error panic", assert.AnError},
			{"int panic", 42},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				handler := Recoverer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					panic(tc.panicValue)
				}))

				rec := httptest.NewRecorder()
				assert.NotPanics(t, func() {
					handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
				})
				assert.Equal(t, http.StatusInternalServerError, rec.Code)
			})
		}
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("Created"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth", nil))

	headers := rec.Header()
	assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", headers.Get("Cache-Control"))
	assert.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))
	assert.Contains(t, headers.Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "strict-origin-when-cross-origin", headers.Get("Referrer-Policy"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Created", rec.Body.String())
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://shop.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allows configured origins with credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth?action=check-session", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("ignores unknown origins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth?action=check-session", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight for POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth?action=login", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})
}

func TestMiddlewareChaining(t *testing.T) {
	t.Run("multiple middleware work together", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Success"))
		})

		chain := Logger()(Recoverer()(SecurityHeaders()(handler)))

		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "Logger should add request ID")
		assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"), "SecurityHeaders should add X-Frame-Options")
	})

	t.Run("recoverer catches panic in downstream middleware", func(t *testing.T) {
		panicMiddleware := func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("middleware panic")
			})
		}

		chain := Recoverer()(panicMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called after panic")
		})))

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func BenchmarkLogger(b *testing.B) {
	handler := Logger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth?action=check-session", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
