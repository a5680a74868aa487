package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/snapboard/internal/model"
)

func TestSetMemberStatus_Admin(t *testing.T) {
	var gotEnabled *bool
	var gotRoles []string
	members := &mockMemberService{
		setStatusFn: func(_ context.Context, admin *model.Principal, username string, enabled *bool, roles []string) (*model.Member, error) {
			if !admin.HasRole(model.RoleAdmin) {
				t.Error("admin principal should carry ADMIN role")
			}
			gotEnabled, gotRoles = enabled, roles
			return &model.Member{ID: username, Enabled: *enabled, Roles: roles}, nil
		},
	}
	router := newTestRouter(&testDeps{members: members})

	req := asMember(httptest.NewRequest(http.MethodPut, "/api/admin/members/bob",
		strings.NewReader(`{"enabled":false,"roles":["USER"]}`)), "admin-carol")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	if gotEnabled == nil || *gotEnabled {
		t.Errorf("enabled = %v, want false", gotEnabled)
	}
	if len(gotRoles) != 1 || gotRoles[0] != model.RoleUser {
		t.Errorf("roles = %v", gotRoles)
	}

	var resp memberStatusResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Username != "bob" || resp.Enabled {
		t.Errorf("response = %+v", resp)
	}
}

func TestSetMemberStatus_Gating(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		body       string
		wantStatus int
	}{
		{"anonymous", "", `{"enabled":true}`, http.StatusUnauthorized},
		{"regular member", "bob", `{"enabled":true}`, http.StatusForbidden},
		{"unknown role", "admin-carol", `{"roles":["ROOT"]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members := &mockMemberService{
				setStatusFn: func(context.Context, *model.Principal, string, *bool, []string) (*model.Member, error) {
					t.Error("SetStatus should not be called")
					return nil, nil
				},
			}
			router := newTestRouter(&testDeps{members: members})

			req := httptest.NewRequest(http.MethodPut, "/api/admin/members/bob", strings.NewReader(tt.body))
			if tt.caller != "" {
				req = asMember(req, tt.caller)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
