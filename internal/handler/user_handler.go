package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/snapboard/internal/middleware"
)

// UserHandler はプロフィールとユーザー単位の投稿一覧のHTTPハンドラー。
type UserHandler struct {
	auth         *AuthHandler
	members      MemberServiceInterface
	interactions InteractionServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
// トークンの再発行とCookieの設定はAuthHandlerに委譲する。
func NewUserHandler(auth *AuthHandler, members MemberServiceInterface, interactions InteractionServiceInterface) *UserHandler {
	return &UserHandler{
		auth:         auth,
		members:      members,
		interactions: interactions,
	}
}

// Me は現在のメンバーのプロフィールを返し、トークンを新しい有効期限で再発行する。
// GET /api/user/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())

	profile, err := h.members.GetProfile(r.Context(), principal.ID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if !h.auth.setTokenCookie(w, principal, h.auth.auth.RefreshToken) {
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Saved は現在のメンバーが保存した投稿を返す。
// GET /api/user/saved
func (h *UserHandler) Saved(w http.ResponseWriter, r *http.Request) {
	views, err := h.interactions.ListSavedPosts(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Profile は指定メンバーの公開プロフィールを返す。
// GET /api/user/{username}
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.members.GetProfile(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Posts は指定メンバーの投稿を、閲覧者のいいね・保存状態付きで返す。
// GET /api/user/{username}/posts
func (h *UserHandler) Posts(w http.ResponseWriter, r *http.Request) {
	views, err := h.interactions.ListPostsByOwner(r.Context(), chi.URLParam(r, "username"),
		middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}
