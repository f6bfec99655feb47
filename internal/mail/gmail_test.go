package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/api/option"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func newTestGmail(t *testing.T, handler http.Handler) *Gmail {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGmail(context.Background(), "",
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewGmail: %v", err)
	}
	return g
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

var sampleMessage = map[string]any{
	"id":           "m1",
	"internalDate": "1772447400000",
	"payload": map[string]any{
		"mimeType": "multipart/alternative",
		"headers": []map[string]string{
			{"name": "From", "value": "Talent Team <jobs@initech.com>"},
			{"name": "Subject", "value": "Your application to Initech"},
			{"name": "Date", "value": "Mon, 2 Mar 2026 10:30:00 +0000"},
		},
		"parts": []map[string]any{
			{"mimeType": "text/html", "body": map[string]any{"data": b64("<p>html</p>")}},
			{"mimeType": "text/plain", "body": map[string]any{"data": b64("Thank you for applying to Initech!")}},
		},
	},
}

func TestGmail_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "full" {
			t.Errorf("format = %q, want full", r.URL.Query().Get("format"))
		}
		writeJSON(w, sampleMessage)
	})
	g := newTestGmail(t, mux)

	m, err := g.Fetch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if m.Body != "Thank you for applying to Initech!" {
		t.Errorf("Body = %q, want the plain part", m.Body)
	}
	if m.Subject != "Your application to Initech" || !strings.Contains(m.From, "jobs@initech.com") {
		t.Errorf("headers = %q / %q", m.Subject, m.From)
	}
	if m.Date.UTC().Format("2006-01-02 15:04") != "2026-03-02 10:30" {
		t.Errorf("Date = %v", m.Date)
	}
}

func TestGmail_SearchCompany(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		writeJSON(w, map[string]any{"messages": []map[string]string{{"id": "m1", "threadId": "t1"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sampleMessage)
	})
	g := newTestGmail(t, mux)

	m, err := g.SearchCompany(context.Background(), "Initech")
	if err != nil {
		t.Fatalf("SearchCompany: %v", err)
	}
	if m.ID != "m1" {
		t.Errorf("ID = %q", m.ID)
	}
	if gotQuery != SearchQuery("Initech") {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestGmail_SearchCompanyNoResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"resultSizeEstimate": 0})
	})
	g := newTestGmail(t, mux)

	if _, err := g.SearchCompany(context.Background(), "Nobody"); !errors.Is(err, ErrNoMessage) {
		t.Errorf("err = %v, want ErrNoMessage", err)
	}
}

func TestGmail_FetchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"error": map[string]any{"code": 404, "message": "Not Found"}})
	})
	g := newTestGmail(t, mux)

	if _, err := g.Fetch(context.Background(), "gone"); err == nil {
		t.Error("expected error")
	}
}

func TestSearchQuery(t *testing.T) {
	got := SearchQuery(" Acme Corp ")
	want := `(Acme Corp) AND ("interview" OR "application" OR "job opportunity" OR "position" OR "employment") newer_than:3m`
	if got != want {
		t.Errorf("SearchQuery = %q\nwant %q", got, want)
	}
}

func TestReadToken(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "token.json")
	os.WriteFile(good, []byte(`{"access_token":"a","refresh_token":"r","token_type":"Bearer"}`), 0o600)
	tok, err := readToken(good)
	if err != nil || tok.RefreshToken != "r" {
		t.Fatalf("readToken = %+v, %v", tok, err)
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{}`), 0o600)
	if _, err := readToken(empty); err == nil {
		t.Error("expected error for token without credentials")
	}
	if _, err := readToken(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDecodeGmailData(t *testing.T) {
	for _, enc := range []string{b64("hi?>"), base64.RawURLEncoding.EncodeToString([]byte("hi?>"))} {
		got, err := decodeGmailData(enc)
		if err != nil || string(got) != "hi?>" {
			t.Errorf("decodeGmailData(%q) = %q, %v", enc, got, err)
		}
	}
}
