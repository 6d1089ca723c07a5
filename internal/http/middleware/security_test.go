package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func securityRouter(opt SecurityOptions, pre gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSecurityHeaders_BaselineOnly(t *testing.T) {
	r := securityRouter(SecurityOptions{}, func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-123")
		c.Next()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

	h := w.Header()
	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, name := range []string{
		"Permissions-Policy", "X-Permitted-Cross-Domain-Policies",
		"Cache-Control", "Pragma", "Expires", "Strict-Transport-Security",
	} {
		if h.Get(name) != "" {
			t.Fatalf("header %s should be absent with zero options: %q", name, h.Get(name))
		}
	}
	if h.Get("Access-Control-Expose-Headers") != "X-Request-ID" {
		t.Fatalf("request id not exposed, got %q", h.Get("Access-Control-Expose-Headers"))
	}
}

func TestSecurityHeaders_ExposeHeaderAppendAndDedup(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"append to existing", "Foo", "Foo, X-Request-ID"},
		{"already listed", "X-Request-ID, Foo", "X-Request-ID, Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := securityRouter(SecurityOptions{}, func(c *gin.Context) {
				c.Header("X-Request-ID", "rid-abc")
				c.Header("Access-Control-Expose-Headers", tc.existing)
				c.Next()
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

			if got := w.Header().Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("expose header = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_PolicyNoStoreAndHSTSOverTLS(t *testing.T) {
	r := securityRouter(SecurityOptions{
		EnableHSTS:   true,
		HSTSMaxAge:   24 * time.Hour,
		NoStore:      true,
		EnablePolicy: true,
	}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.TLS = &tls.ConnectionState{}
	r.ServeHTTP(w, req)

	h := w.Header()
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("missing policy headers: %#v", h)
	}
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("missing cache headers: %#v", h)
	}
	if want := "max-age=86400; includeSubDomains; preload"; h.Get("Strict-Transport-Security") != want {
		t.Fatalf("HSTS = %q; want %q", h.Get("Strict-Transport-Security"), want)
	}
}

func TestSecurityHeaders_HSTSBehindProxy(t *testing.T) {
	r := securityRouter(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}, nil)

	// HSTS must fire when the proxy terminated TLS and said so.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); !strings.HasPrefix(got, "max-age=") {
		t.Fatalf("expected HSTS header, got %q", got)
	}

	// And must stay silent on plain HTTP even when enabled.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS leaked on plain HTTP: %q", got)
	}
}

func Test_isHTTPS(t *testing.T) {
	plain := httptest.NewRequest(http.MethodGet, "/", nil)
	if isHTTPS(plain) {
		t.Fatalf("plain HTTP reported as https")
	}

	direct := httptest.NewRequest(http.MethodGet, "/", nil)
	direct.TLS = &tls.ConnectionState{}
	if !isHTTPS(direct) {
		t.Fatalf("TLS request not reported as https")
	}

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !isHTTPS(proxied) {
		t.Fatalf("X-Forwarded-Proto not honored case-insensitively")
	}
}
