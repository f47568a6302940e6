package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TokenAdapter speaks to panels that authenticate with a bearer token
// obtained by posting JSON credentials. Vendors in this family disagree on
// the response field carrying the token, so extraction probes a fixed
// ordered list of candidates.
type TokenAdapter struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

type tokenSession struct {
	token string
}

func (tokenSession) sessionArtifact() {}

// tokenRules is the probing order. First present non-empty string wins;
// order is part of the contract and covered by tests.
var tokenRules = []struct {
	name    string
	extract func(map[string]any) (string, bool)
}{
	{"token", topLevelString("token")},
	{"access_token", topLevelString("access_token")},
	{"jwt", topLevelString("jwt")},
	{"bearer", topLevelString("bearer")},
	{"data.token", nestedString("data", "token")},
}

func NewTokenAdapter(creds Credentials, client *http.Client) *TokenAdapter {
	if client == nil {
		client = http.DefaultClient
	}

	return &TokenAdapter{
		baseURL:  strings.TrimRight(creds.BaseURL, "/"),
		username: creds.Username,
		password: creds.Password,
		client:   client,
	}
}

func (a *TokenAdapter) Login(ctx context.Context) (Session, error) {
	payload, err := json.Marshal(map[string]string{
		"username": a.username,
		"password": a.password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/login", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "login read", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Reason: fmt.Sprintf("login returned status %d", resp.StatusCode)}
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &AuthError{Reason: "login response is not valid json"}
	}

	token, ok := extractToken(decoded)
	if !ok {
		return nil, &AuthError{Reason: "no token field in login response"}
	}

	return tokenSession{token: token}, nil
}

func (a *TokenAdapter) ApplyCredit(ctx context.Context, session Session, externalID string, credits int) (Result, error) {
	ts, ok := session.(tokenSession)
	if !ok {
		return Result{}, &AuthError{Reason: "session is not a token session"}
	}
	if strings.TrimSpace(externalID) == "" || credits <= 0 {
		return Result{}, fmt.Errorf("invalid credit payload")
	}

	payload, err := json.Marshal(map[string]any{
		"user_id": externalID,
		"credits": credits,
		"action":  "add",
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal credit payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/credits", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.token)

	resp, err := a.client.Do(req)
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

	// A 2xx status is not evidence of success: panels in this family wrap
	// business failures in success envelopes.
	if msg, failed := envelopeFailure(body); failed {
		return Result{}, &RejectionError{Message: msg, RawBody: raw}
	}

	return Result{RawBody: raw}, nil
}

func extractToken(decoded map[string]any) (string, bool) {
	for _, rule := range tokenRules {
		if token, ok := rule.extract(decoded); ok {
			return token, true
		}
	}
	return "", false
}

func topLevelString(key string) func(map[string]any) (string, bool) {
	return func(decoded map[string]any) (string, bool) {
		return stringField(decoded, key)
	}
}

func nestedString(outer, inner string) func(map[string]any) (string, bool) {
	return func(decoded map[string]any) (string, bool) {
		nested, ok := decoded[outer].(map[string]any)
		if !ok {
			return "", false
		}
		return stringField(nested, inner)
	}
}

func stringField(decoded map[string]any, key string) (string, bool) {
	value, ok := decoded[key].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// envelopeFailure inspects a 2xx reply for a textual failure. Unparseable
// bodies count as failures: without a readable envelope there is no evidence
// the credits landed.
func envelopeFailure(body []byte) (string, bool) {
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "unparseable response body", true
	}

	if result, ok := decoded["result"].(bool); ok && !result {
		return failureMessage(decoded), true
	}
	if success, ok := decoded["success"].(bool); ok && !success {
		return failureMessage(decoded), true
	}
	if status, ok := decoded["status"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "error", "failed", "fail":
			return failureMessage(decoded), true
		}
	}
	if msg, ok := decoded["error"].(string); ok && strings.TrimSpace(msg) != "" {
		return msg, true
	}

	return "", false
}

func failureMessage(decoded map[string]any) string {
	for _, key := range []string{"error", "message", "msg"} {
		if msg, ok := decoded[key].(string); ok && strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	return "remote panel reported failure"
}
