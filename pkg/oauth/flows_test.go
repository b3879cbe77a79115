package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jeremyhahn/go-workspace-auth/pkg/autherr"
)

func TestExchange_Success(t *testing.T) {
	var calls atomic.Int32
	var form url.Values

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Expected form content type, got %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() failed: %v", err)
		}
		form = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "T",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	e := NewExchanger(server.Client(), nil, nil)
	token, err := e.Exchange(context.Background(), ExchangeRequest{
		TokenEndpoint: server.URL,
		ClientID:      "ws-client",
		ClientSecret:  "ws-secret",
		Code:          "auth-code",
		RedirectURI:   "https://tre.example.com/guacamole/",
		Scope:         ImpersonationScope("ws-client"),
	})
	if err != nil {
		t.Fatalf("Exchange() failed: %v", err)
	}

	if token != "T" {
		t.Errorf("Expected token 'T', got '%s'", token)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 token request, got %d", calls.Load())
	}

	want := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "ws-client",
		"client_secret": "ws-secret",
		"code":          "auth-code",
		"redirect_uri":  "https://tre.example.com/guacamole/",
		"scope":         "api://ws-client/user_impersonation",
	}
	for k, v := range want {
		if got := form.Get(k); got != v {
			t.Errorf("Form %s = %q, want %q", k, got, v)
		}
	}
}

func TestExchange_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
			},
		},
		{
			name: "missing access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"token_type":"Bearer"}`))
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			e := NewExchanger(server.Client(), nil, nil)
			_, err := e.Exchange(context.Background(), ExchangeRequest{
				TokenEndpoint: server.URL,
				ClientID:      "ws-client",
				Code:          "auth-code",
			})
			if !errors.Is(err, autherr.ErrTokenExchange) {
				t.Errorf("Expected ErrTokenExchange, got %v", err)
			}
		})
	}
}

func TestExchange_MissingInputs(t *testing.T) {
	e := NewExchanger(nil, nil, nil)

	_, err := e.Exchange(context.Background(), ExchangeRequest{TokenEndpoint: "http://127.0.0.1:1/token"})
	if !errors.Is(err, autherr.ErrTokenExchange) {
		t.Errorf("Expected ErrTokenExchange for missing code, got %v", err)
	}

	_, err = e.Exchange(context.Background(), ExchangeRequest{Code: "auth-code"})
	if !errors.Is(err, autherr.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for missing endpoint, got %v", err)
	}
}

func TestAuthorizationURL(t *testing.T) {
	raw, err := AuthorizationURL(
		"https://login.example.com/tenant-1/oauth2/v2.0/authorize",
		"ws-client",
		"https://tre.example.com/guacamole/",
		"nonce-1",
		"3fa85f64-5717-4562-b3fc-2c963f66afa6",
	)
	if err != nil {
		t.Fatalf("AuthorizationURL() failed: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() failed: %v", err)
	}
	if !strings.HasPrefix(raw, "https://login.example.com/tenant-1/oauth2/v2.0/authorize?") {
		t.Errorf("Unexpected endpoint in %q", raw)
	}

	q := u.Query()
	want := map[string]string{
		"client_id":     "ws-client",
		"redirect_uri":  "https://tre.example.com/guacamole/",
		"response_type": "code",
		"scope":         "openid profile email",
		"nonce":         "nonce-1",
		"state":         "3fa85f64-5717-4562-b3fc-2c963f66afa6",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("Query %s = %q, want %q", k, got, v)
		}
	}
	if !strings.Contains(raw, "client_id=ws-client") {
		t.Errorf("Expected literal client_id in %q", raw)
	}
}

func TestAuthorizationURL_ConfigurationErrors(t *testing.T) {
	if _, err := AuthorizationURL("", "c", "https://r", "n", "s"); !errors.Is(err, autherr.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for missing endpoint, got %v", err)
	}
	if _, err := AuthorizationURL("https://login.example.com/authorize", "c", "", "n", "s"); !errors.Is(err, autherr.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for missing redirect uri, got %v", err)
	}
}
