package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/snapboard/internal/middleware"
	"github.com/hitoshi/snapboard/internal/model"
)

// AdminHandler は管理者向けのHTTPハンドラー。
type AdminHandler struct {
	members MemberServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(members MemberServiceInterface) *AdminHandler {
	return &AdminHandler{members: members}
}

type memberStatusRequest struct {
	Enabled *bool    `json:"enabled"`
	Roles   []string `json:"roles"`
}

func (r memberStatusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Roles, validation.By(validRoles)),
	)
}

func validRoles(value interface{}) error {
	roles, _ := value.([]string)
	for _, role := range roles {
		if err := validation.Validate(role, validation.In(model.RoleUser, model.RoleAdmin)); err != nil {
			return errors.New("未定義のロールです: " + role)
		}
	}
	return nil
}

type memberStatusResponse struct {
	Username string   `json:"username"`
	Enabled  bool     `json:"enabled"`
	Roles    []string `json:"roles"`
}

// SetMemberStatus はメンバーの有効フラグとロールを変更する。
// PUT /api/admin/members/{username}
func (h *AdminHandler) SetMemberStatus(w http.ResponseWriter, r *http.Request) {
	var req memberStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	m, err := h.members.SetStatus(r.Context(), middleware.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "username"), req.Enabled, req.Roles)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, memberStatusResponse{
		Username: m.ID,
		Enabled:  m.Enabled,
		Roles:    m.Roles,
	})
}
