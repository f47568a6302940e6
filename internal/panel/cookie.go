package panel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// CookieAdapter speaks to panels that authenticate with an HTML form login:
// fetch the login page, harvest the anti-forgery token embedded in it, then
// submit form credentials and carry the returned session cookies.
type CookieAdapter struct {
	baseURL  string
	username string
	password string
	template *http.Client
}

type cookieSession struct {
	client    *http.Client
	csrfField string
	csrfToken string
}

func (cookieSession) sessionArtifact() {}

// csrfFields is the probing order for the anti-forgery input name, covering
// the frameworks observed across this panel family.
var csrfFields = []string{"csrf_token", "_token", "csrfmiddlewaretoken", "authenticity_token"}

type csrfPattern struct {
	field      string
	nameFirst  *regexp.Regexp
	valueFirst *regexp.Regexp
}

// csrfPatterns holds the compiled probes per field, in csrfFields order, so a
// login attempt never recompiles them.
var csrfPatterns = func() []csrfPattern {
	patterns := make([]csrfPattern, 0, len(csrfFields))
	for _, name := range csrfFields {
		patterns = append(patterns, csrfPattern{
			field:      name,
			nameFirst:  regexp.MustCompile(`<input[^>]*name=["']?` + regexp.QuoteMeta(name) + `["']?[^>]*value=["']([^"']+)["']`),
			valueFirst: regexp.MustCompile(`<input[^>]*value=["']([^"']+)["'][^>]*name=["']?` + regexp.QuoteMeta(name) + `["']?`),
		})
	}
	return patterns
}()

func NewCookieAdapter(creds Credentials, template *http.Client) *CookieAdapter {
	if template == nil {
		template = http.DefaultClient
	}

	return &CookieAdapter{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		username: creds.Username,
		password: creds.Password,
		template: template,
	}
}

func (a *CookieAdapter) Login(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	// Fresh jar per login; nothing survives from previous attempts.
	client := &http.Client{
		Timeout:   a.template.Timeout,
		Transport: a.template.Transport,
		Jar:       jar,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/login", nil)
	if err != nil {
		return nil, fmt.Errorf("build login page request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "login page fetch", Err: err}
	}
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &NetworkError{Op: "login page read", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Reason: fmt.Sprintf("login page returned status %d", resp.StatusCode)}
	}

	field, token, ok := harvestCSRF(string(page))
	if !ok {
		return nil, &AuthError{Reason: "no anti-forgery field on login page"}
	}

	form := url.Values{}
	form.Set("username", a.username)
	form.Set("password", a.password)
	form.Set(field, token)

	loginReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login submit request: %w", err)
	}
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	loginResp, err := client.Do(loginReq)
	if err != nil {
		return nil, &NetworkError{Op: "login submit", Err: err}
	}
	_, _ = io.Copy(io.Discard, loginResp.Body)
	loginResp.Body.Close()

	if loginResp.StatusCode < 200 || loginResp.StatusCode >= 400 {
		return nil, &AuthError{Reason: fmt.Sprintf("login submit returned status %d", loginResp.StatusCode)}
	}

	return cookieSession{client: client, csrfField: field, csrfToken: token}, nil
}

func (a *CookieAdapter) ApplyCredit(ctx context.Context, session Session, externalID string, credits int) (Result, error) {
	cs, ok := session.(cookieSession)
	if !ok {
		return Result{}, &AuthError{Reason: "session is not a cookie session"}
	}
	if strings.TrimSpace(externalID) == "" || credits <= 0 {
		return Result{}, fmt.Errorf("invalid credit payload")
	}

	form := url.Values{}
	form.Set("user_id", externalID)
	form.Set("credits", strconv.Itoa(credits))
	form.Set("action", "add")
	form.Set(cs.csrfField, cs.csrfToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/credits/add", strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := cs.client.Do(req)
	if err != nil {
		return Result{}, &NetworkError{Op: "apply credit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &NetworkError{Op: "apply credit read", Err: err}
	}
	raw := string(body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Result{}, &AuthError{Reason: fmt.Sprintf("credit call returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &RejectionError{
			Message: fmt.Sprintf("credit call returned status %d", resp.StatusCode),
			RawBody: raw,
		}
	}

	if msg, failed := envelopeFailure(body); failed {
		return Result{}, &RejectionError{Message: msg, RawBody: raw}
	}

	return Result{RawBody: raw}, nil
}

// harvestCSRF scans the login page for a hidden input matching one of the
// known anti-forgery field names, in probing order. Attribute order within
// the tag varies by vendor, so both name-first and value-first layouts are
// tried.
func harvestCSRF(page string) (field, token string, ok bool) {
	for _, pattern := range csrfPatterns {
		if m := pattern.nameFirst.FindStringSubmatch(page); m != nil {
			return pattern.field, m[1], true
		}
		if m := pattern.valueFirst.FindStringSubmatch(page); m != nil {
			return pattern.field, m[1], true
		}
	}
	return "", "", false
}
