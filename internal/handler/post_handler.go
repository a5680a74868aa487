package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/hitoshi/snapboard/internal/middleware"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/storage"
)

// InteractionServiceInterface は投稿・コメントのハンドラーが必要とするサービスインターフェース。
type InteractionServiceInterface interface {
	CreatePost(ctx context.Context, principal *model.Principal, image storage.Object, caption string) (*model.PostView, error)
	ToggleLike(ctx context.Context, postID string, principal *model.Principal) (*model.LikeResult, error)
	ToggleSave(ctx context.Context, postID string, principal *model.Principal) (bool, error)
	DeletePost(ctx context.Context, postID string, principal *model.Principal) error
	UpdateCaption(ctx context.Context, postID, caption string, principal *model.Principal) error
	AddComment(ctx context.Context, content, postID string, parentID *string, principal *model.Principal) (*model.CommentNode, error)
	DeleteComment(ctx context.Context, commentID string, principal *model.Principal) error
	ListComments(ctx context.Context, postID string) (*model.CommentThread, error)
	ListFeed(ctx context.Context, principal *model.Principal) ([]model.PostView, error)
	ListPostsByOwner(ctx context.Context, ownerUsername string, principal *model.Principal) ([]model.PostView, error)
	ListSavedPosts(ctx context.Context, principal *model.Principal) ([]model.PostView, error)
}

// PostHandler は投稿とコメントのHTTPハンドラー。
type PostHandler struct {
	service       InteractionServiceInterface
	maxUploadSize int64
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service InteractionServiceInterface, maxUploadSize int64) *PostHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	return &PostHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
	}
}

type createPostResponse struct {
	Message string          `json:"message"`
	Post    *model.PostView `json:"post"`
}

type updateCaptionRequest struct {
	Caption string `json:"caption"`
}

func (r updateCaptionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Caption, validation.Required, validation.RuneLength(1, 2200)),
	)
}

type addCommentRequest struct {
	Comment string  `json:"comment"`
	ReplyTo *string `json:"replyTo"`
}

func (r addCommentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Comment, validation.Required, validation.RuneLength(1, 1000)),
	)
}

type addCommentResponse struct {
	Message string             `json:"message"`
	Comment *model.CommentNode `json:"comment"`
}

type saveResponse struct {
	IsNowSaved bool `json:"isNowSaved"`
}

// List はフィードを返す。匿名でも閲覧できる。
// GET /api/posts
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListFeed(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Create は画像付きの投稿を作成する。
// POST /api/posts (multipart/form-data: file, caption)
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			handleServiceError(w, model.NewInvalidArgumentError("画像ファイルを指定してください"))
			return
		}
		handleServiceError(w, model.NewInvalidArgumentError("ファイルの読み込みに失敗しました"))
		return
	}
	defer file.Close()

	image, err := readImage(file, header)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.service.CreatePost(r.Context(), middleware.PrincipalFromContext(r.Context()),
		*image, r.FormValue("caption"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createPostResponse{
		Message: "Successfully added Post!",
		Post:    view,
	})
}

// Delete は投稿を削除する。作成者のみ削除できる。
// DELETE /api/posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeletePost(r.Context(), chi.URLParam(r, "id"), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Successfully deleted Post!")
}

// UpdateCaption は投稿のキャプションを更新する。作成者のみ更新できる。
// PATCH /api/posts/{id}
func (h *PostHandler) UpdateCaption(w http.ResponseWriter, r *http.Request) {
	var req updateCaptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	err := h.service.UpdateCaption(r.Context(), chi.URLParam(r, "id"), req.Caption,
		middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Successfully updated caption!")
}

// ToggleLike はいいねを反転する。
// POST /api/posts/{id}/like
func (h *PostHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ToggleLike(r.Context(), chi.URLParam(r, "id"), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ToggleSave は保存を反転する。
// POST /api/posts/{id}/save
func (h *PostHandler) ToggleSave(w http.ResponseWriter, r *http.Request) {
	saved, err := h.service.ToggleSave(r.Context(), chi.URLParam(r, "id"), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{IsNowSaved: saved})
}

// ListComments は投稿のコメントツリーを返す。
// GET /api/posts/{id}/comments
func (h *PostHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	thread, err := h.service.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// AddComment はコメントまたは返信を追加する。
// POST /api/posts/{id}/comments
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	node, err := h.service.AddComment(r.Context(), req.Comment, chi.URLParam(r, "id"), req.ReplyTo,
		middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addCommentResponse{
		Message: "Successfully added Comment!",
		Comment: node,
	})
}

// DeleteComment はコメントを削除する。作成者のみ削除できる。
// DELETE /api/comments/{id}
func (h *PostHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteComment(r.Context(), chi.URLParam(r, "id"), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Successfully deleted Comment!")
}
