package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/token"
)

// --- モック定義 ---

type mockResolver struct {
	decodeFn        func(tok string) (*token.Claims, error)
	loadPrincipalFn func(ctx context.Context, id string) (*model.Principal, error)
	validateFn      func(tok, id string) bool
}

func (m *mockResolver) Decode(tok string) (*token.Claims, error) {
	if m.decodeFn != nil {
		return m.decodeFn(tok)
	}
	return &token.Claims{Subject: tok}, nil
}

func (m *mockResolver) LoadPrincipal(ctx context.Context, id string) (*model.Principal, error) {
	if m.loadPrincipalFn != nil {
		return m.loadPrincipalFn(ctx, id)
	}
	return nil, nil
}

func (m *mockResolver) Validate(tok, id string) bool {
	if m.validateFn != nil {
		return m.validateFn(tok, id)
	}
	return true
}

var _ IdentityResolver = (*mockResolver)(nil)

type authFailureSpy struct {
	metrics.Nop
	reasons []string
}

func (s *authFailureSpy) RecordAuthFailure(reason string) {
	s.reasons = append(s.reasons, reason)
}

func enabledMember(id string, roles ...string) *model.Principal {
	return model.NewPrincipal(&model.Member{ID: id, Enabled: true, Roles: roles})
}

// captureHandler は到達したかどうかと、コンテキストのPrincipalを記録する。
type captureHandler struct {
	called    bool
	principal *model.Principal
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.principal = PrincipalFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func requestWithToken(tok string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	if tok != "" {
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: tok})
	}
	return req
}

func TestIdentity_NoCookie_Anonymous(t *testing.T) {
	resolver := &mockResolver{
		decodeFn: func(string) (*token.Claims, error) {
			t.Fatal("Decode must not be called without a cookie")
			return nil, nil
		},
	}
	next := &captureHandler{}
	w := httptest.NewRecorder()

	NewIdentityMiddleware(resolver, nil)(next).ServeHTTP(w, requestWithToken(""))

	if !next.called || next.principal != nil {
		t.Errorf("called=%v principal=%v, want anonymous pass-through", next.called, next.principal)
	}
}

func TestIdentity_ValidToken_BindsPrincipal(t *testing.T) {
	resolver := &mockResolver{
		loadPrincipalFn: func(_ context.Context, id string) (*model.Principal, error) {
			return enabledMember(id, model.RoleUser), nil
		},
	}
	next := &captureHandler{}

	NewIdentityMiddleware(resolver, nil)(next).ServeHTTP(httptest.NewRecorder(), requestWithToken("alice"))

	if next.principal == nil || next.principal.ID != "alice" {
		t.Fatalf("principal = %+v, want alice", next.principal)
	}
	if !next.principal.HasRole(model.RoleUser) {
		t.Error("roles should come from the loaded member")
	}
}

func TestIdentity_TokenErrors_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
		wantCode   string
	}{
		{"malformed", token.ErrMalformed, "Unable to get token", model.ErrCodeTokenMalformed},
		{"expired", fmt.Errorf("%w: exp", token.ErrExpired), "Token has expired", model.ErrCodeTokenExpired},
		{"bad signature", token.ErrInvalidSignature, "Invalid token", model.ErrCodeTokenInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{
				decodeFn: func(string) (*token.Claims, error) { return nil, tt.err },
			}
			spy := &authFailureSpy{}
			next := &captureHandler{}
			w := httptest.NewRecorder()

			NewIdentityMiddleware(resolver, spy)(next).ServeHTTP(w, requestWithToken("bad"))

			if next.called {
				t.Error("downstream handler must not run for a rejected token")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			var body TokenErrorBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Error != tt.wantReason || body.Code != tt.wantCode {
				t.Errorf("body = %+v, want {%s %s}", body, tt.wantReason, tt.wantCode)
			}
			if len(spy.reasons) != 1 || spy.reasons[0] != tt.wantCode {
				t.Errorf("auth failure metrics = %v", spy.reasons)
			}
		})
	}
}

func TestIdentity_MissingOrDisabledMember_Anonymous(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		valid     bool
	}{
		{"deleted member", nil, true},
		{"disabled member", model.NewPrincipal(&model.Member{ID: "alice", Enabled: false}), true},
		{"subject mismatch", enabledMember("alice"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{
				loadPrincipalFn: func(context.Context, string) (*model.Principal, error) { return tt.principal, nil },
				validateFn:      func(string, string) bool { return tt.valid },
			}
			next := &captureHandler{}

			NewIdentityMiddleware(resolver, nil)(next).ServeHTTP(httptest.NewRecorder(), requestWithToken("alice"))

			if !next.called || next.principal != nil {
				t.Errorf("called=%v principal=%v, want anonymous", next.called, next.principal)
			}
		})
	}
}

func TestIdentity_StoreFailure_500(t *testing.T) {
	resolver := &mockResolver{
		loadPrincipalFn: func(context.Context, string) (*model.Principal, error) {
			return nil, errors.New("connection refused")
		},
	}
	next := &captureHandler{}
	w := httptest.NewRecorder()

	NewIdentityMiddleware(resolver, nil)(next).ServeHTTP(w, requestWithToken("alice"))

	if next.called {
		t.Error("downstream handler must not run")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	next := &captureHandler{}
	handler := RequireAuth(next)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts", nil))
	if w.Code != http.StatusUnauthorized || next.called {
		t.Fatalf("anonymous: status=%d called=%v, want 401 without handler", w.Code, next.called)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Code != model.ErrCodeUnauthorized {
		t.Errorf("body = %+v (err=%v), want UNAUTHORIZED", body, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/posts", nil)
	req = req.WithContext(ContextWithPrincipal(req.Context(), enabledMember("alice")))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !next.called {
		t.Errorf("authenticated: status=%d called=%v", w.Code, next.called)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		principal  *model.Principal
		wantStatus int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", enabledMember("bob", model.RoleUser), http.StatusForbidden},
		{"admin", enabledMember("root", model.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/admin/members/alice", nil)
			if tt.principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), tt.principal))
			}
			w := httptest.NewRecorder()

			RequireRole(model.RoleAdmin)(&captureHandler{}).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
