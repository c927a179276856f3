package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMyMemoryTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("langpair"); got != "en|vi" {
			t.Errorf("unexpected langpair %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "hello" {
			t.Errorf("unexpected query %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseData": map[string]string{"translatedText": "xin chào"},
		})
	}))
	defer srv.Close()

	m := NewMyMemory(srv.URL, srv.Client())
	out, err := m.Translate(context.Background(), "hello", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "xin chào" {
		t.Errorf("expected translation, got %q", out)
	}
}

func TestMyMemoryDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("langpair"); got != "auto|en" {
			t.Errorf("unexpected langpair %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responseData": map[string]string{"translatedText": "hello"},
			"matches":      []map[string]string{{"source": "vi"}},
		})
	}))
	defer srv.Close()

	m := NewMyMemory(srv.URL, srv.Client())
	lang, err := m.Detect(context.Background(), "xin chào")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lang != "vi" {
		t.Errorf("expected vi, got %q", lang)
	}
}

func TestMyMemoryErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMyMemory(srv.URL, srv.Client())
	if _, err := m.Translate(context.Background(), "hello", "en", "vi"); err == nil {
		t.Error("expected error on 429 response")
	}
}

func TestLibreTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/translate":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["q"] != "hello" || body["source"] != "en" || body["target"] != "vi" {
				t.Errorf("unexpected body %v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": "xin chào"})
		case "/detect":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"language": "vi", "confidence": 0.9},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	l := NewLibreTranslate(srv.URL, "", srv.Client())
	out, err := l.Translate(context.Background(), "hello", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "xin chào" {
		t.Errorf("expected translation, got %q", out)
	}

	lang, err := l.Detect(context.Background(), "xin chào")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lang != "vi" {
		t.Errorf("expected vi, got %q", lang)
	}
}

func TestLingvaTranslate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/en/vi/hello" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"translation": "xin chào"})
	}))
	defer srv.Close()

	l := NewLingva(srv.URL, srv.Client())
	out, err := l.Translate(context.Background(), "hello", "en", "vi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "xin chào" {
		t.Errorf("expected translation, got %q", out)
	}
}
