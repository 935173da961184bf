package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestManagerRunsInOrderAndStopsOnAbort(t *testing.T) {
	var seen []string
	m := NewManager(func(c *gin.Context) { seen = append(seen, "a") })
	m.Add(func(c *gin.Context) {
		seen = append(seen, "b")
		if c.Query("stop") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})
	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) { seen = append(seen, "h") })

	serve(r, http.MethodGet, "/x", "", nil)
	if strings.Join(seen, "") != "abh" {
		t.Fatalf("order = %v", seen)
	}
	seen = nil
	if rec := serve(r, http.MethodGet, "/x?stop=1", "", nil); rec.Code != http.StatusTeapot || strings.Join(seen, "") != "ab" {
		t.Fatalf("abort = %d %v", rec.Code, seen)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("len after clear = %d", m.Len())
	}
}

func TestOrigin(t *testing.T) {
	r := gin.New()
	r.Use(NewManager(Origin("http://a.example")).Use())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	rec := serve(r, http.MethodGet, "/x", "", map[string]string{"Origin": "http://a.example"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://a.example" {
		t.Fatalf("allowed origin headers = %v", rec.Header())
	}
	rec = serve(r, http.MethodGet, "/x", "", map[string]string{"Origin": "http://evil.example"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" || rec.Body.String() != "ok" {
		t.Fatalf("foreign origin = %v %q", rec.Header(), rec.Body.String())
	}
}

func TestTouchUser(t *testing.T) {
	var users []string
	r := gin.New()
	r.Use(NewManager(TouchUser(func(u string) { users = append(users, u) })).Use())
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })

	serve(r, http.MethodGet, "/any?user=bob", "", nil)
	serve(r, http.MethodGet, "/any?user=", "", nil)
	serve(r, http.MethodGet, "/any", "", nil)
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("touched = %v", users)
	}
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	POST(r, "/p", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusOK, "too big")
			return
		}
		c.String(http.StatusOK, string(b))
	}, RouteOpt{MaxBody: 4})

	if rec := serve(r, http.MethodPost, "/p", "abcd", nil); rec.Body.String() != "abcd" {
		t.Fatalf("small body = %q", rec.Body.String())
	}
	if rec := serve(r, http.MethodPost, "/p", "abcdef", nil); rec.Body.String() != "too big" {
		t.Fatalf("large body = %q", rec.Body.String())
	}
}
