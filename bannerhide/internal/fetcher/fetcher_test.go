package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "test-agent") {
			t.Errorf("User-Agent: got %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(WithUserAgent("test-agent"))
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("StatusCode: got %d, want 200", res.StatusCode)
	}
	if string(res.Body) != "<html><body>ok</body></html>" {
		t.Errorf("Body: got %q", res.Body)
	}
}

func TestFetch_Captcha(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNetworkAuthenticationRequired)
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrCaptcha) {
		t.Errorf("Fetch: got %v, want ErrCaptcha", err)
	}
}

func TestFetch_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Fetch: got %v, want status 404 error", err)
	}
}

func TestFetch_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New().Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(res.URL, "/new") {
		t.Errorf("URL: got %q, want .../new", res.URL)
	}
}
