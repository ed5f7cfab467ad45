package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNormalizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
		{"/alfred//v1/", "/alfred/v1"},
	}
	for _, c := range cases {
		if got := normalizeBase(c.in); got != c.want {
			t.Fatalf("normalizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rt := NewRouter(nil, "/api")
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { rt.writeJSON(c, 201, map[string]any{"state": "Ready"}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content-type: %s", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache-control: %s", cc)
	}
	if body := rec.Body.String(); body != "{\"state\":\"Ready\"}\n" {
		t.Fatalf("body: %q", body)
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rt := NewRouter(nil, "")
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { rt.writeJSON(c, 200, map[string]any{"bad": make(chan int)}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
}
