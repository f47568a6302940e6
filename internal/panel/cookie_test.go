package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const loginPage = `<html><body>
<form method="post" action="/login">
<input type="hidden" name="csrf_token" value="tok-abc123">
<input type="text" name="username">
<input type="password" name="password">
</form></body></html>`

func TestCookieLoginHarvestsCSRFAndCookies(t *testing.T) {
	var submitted map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/login":
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "sess-1"})
			_, _ = w.Write([]byte(loginPage))
		case r.Method == http.MethodPost && r.URL.Path == "/login":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse login form: %v", err)
			}
			submitted = map[string]string{
				"username":   r.PostFormValue("username"),
				"password":   r.PostFormValue("password"),
				"csrf_token": r.PostFormValue("csrf_token"),
			}
			if c, err := r.Cookie("PHPSESSID"); err != nil || c.Value != "sess-1" {
				t.Fatalf("login submit should carry the page session cookie")
			}
			http.SetCookie(w, &http.Cookie{Name: "panel_session", Value: "auth-9"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	session, err := adapter.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if submitted["username"] != "admin" || submitted["password"] != "pw" {
		t.Fatalf("unexpected submitted credentials: %v", submitted)
	}
	if submitted["csrf_token"] != "tok-abc123" {
		t.Fatalf("unexpected submitted csrf token: %q", submitted["csrf_token"])
	}

	cs, ok := session.(cookieSession)
	if !ok {
		t.Fatalf("unexpected session type %T", session)
	}
	if cs.csrfField != "csrf_token" || cs.csrfToken != "tok-abc123" {
		t.Fatalf("unexpected csrf artifact: %s=%s", cs.csrfField, cs.csrfToken)
	}
}

func TestCookieLoginFailsWithoutAntiForgeryField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><form><input name="username"><input name="password"></form></html>`))
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	if _, err := adapter.Login(context.Background()); !IsAuthError(err) {
		t.Fatalf("expected AuthError for missing anti-forgery field, got %v", err)
	}
}

func TestCookieLoginProbesAlternateFieldNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`<form><input type="hidden" value="django-tok" name="csrfmiddlewaretoken"></form>`))
			return
		}
		if r.PostFormValue("csrfmiddlewaretoken") != "django-tok" {
			t.Fatalf("expected csrfmiddlewaretoken to be submitted")
		}
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	session, err := adapter.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	cs := session.(cookieSession)
	if cs.csrfField != "csrfmiddlewaretoken" {
		t.Fatalf("unexpected csrf field: %s", cs.csrfField)
	}
}

func TestCookieApplyCreditCarriesSessionCookies(t *testing.T) {
	var creditForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/login":
			_, _ = w.Write([]byte(loginPage))
		case r.Method == http.MethodPost && r.URL.Path == "/login":
			http.SetCookie(w, &http.Cookie{Name: "panel_session", Value: "auth-1"})
		case r.Method == http.MethodPost && r.URL.Path == "/credits/add":
			if c, err := r.Cookie("panel_session"); err != nil || c.Value != "auth-1" {
				t.Fatalf("credit call should carry the login session cookie")
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse credit form: %v", err)
			}
			creditForm = map[string]string{
				"user_id": r.PostFormValue("user_id"),
				"credits": r.PostFormValue("credits"),
				"action":  r.PostFormValue("action"),
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"result": true, "message": "3 credits added"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	session, err := adapter.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	result, err := adapter.ApplyCredit(context.Background(), session, "887", 3)
	if err != nil {
		t.Fatalf("apply credit: %v", err)
	}

	if creditForm["user_id"] != "887" || creditForm["credits"] != "3" || creditForm["action"] != "add" {
		t.Fatalf("unexpected credit form: %v", creditForm)
	}
	if result.RawBody == "" {
		t.Fatalf("raw body should be retained")
	}
}

func TestCookieApplyCreditRejectsFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(loginPage))
		case r.URL.Path == "/login":
			w.WriteHeader(http.StatusOK)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"result": false, "error": "insufficient balance"})
		}
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	session, err := adapter.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := adapter.ApplyCredit(context.Background(), session, "887", 3); !IsRejectionError(err) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
}

func TestCookieLoginUsesFreshJarPerAttempt(t *testing.T) {
	logins := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if _, err := r.Cookie("panel_session"); err == nil {
				t.Fatalf("second login attempt must not reuse cookies from the first")
			}
			_, _ = w.Write([]byte(loginPage))
			return
		}
		logins++
		http.SetCookie(w, &http.Cookie{Name: "panel_session", Value: "auth"})
	}))
	defer srv.Close()

	adapter := NewCookieAdapter(Credentials{BaseURL: srv.URL, Username: "admin", Password: "pw"}, srv.Client())
	for i := 0; i < 2; i++ {
		if _, err := adapter.Login(context.Background()); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}
	if logins != 2 {
		t.Fatalf("expected 2 login submits, got %d", logins)
	}
}
