// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/hitoshi/snapboard/internal/member"
	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/middleware"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/storage"
)

// DefaultMaxUploadSize はアップロードの既定の最大サイズ（10MiB）。
const DefaultMaxUploadSize int64 = 10 << 20

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, username, password string) (*model.Principal, error)
	IssueToken(principal *model.Principal) (string, time.Time, error)
	RefreshToken(principal *model.Principal) (string, time.Time, error)
	TokenTTL() time.Duration
}

// MemberServiceInterface はメンバー関連のハンドラーが必要とするサービスインターフェース。
type MemberServiceInterface interface {
	Register(ctx context.Context, in member.RegisterInput) (*model.Member, error)
	GetProfile(ctx context.Context, username string) (*model.Profile, error)
	SetStatus(ctx context.Context, admin *model.Principal, username string, enabled *bool, roles []string) (*model.Member, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	MaxUploadSize int64 // 登録時のプロフィール画像を含むリクエストの最大サイズ
}

// AuthHandler はログイン・ログアウト・登録のHTTPハンドラー。
type AuthHandler struct {
	auth    AuthServiceInterface
	members MemberServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorがnilの場合は記録しない。
func NewAuthHandler(auth AuthServiceInterface, members MemberServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = DefaultMaxUploadSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		auth:    auth,
		members: members,
		config:  config,
		metrics: collector,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type loginResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type registerResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    registerData `json:"data"`
}

type registerData struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// registerForm は登録フォームの入力値。
type registerForm struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
}

func (f registerForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Username, validation.Required, validation.RuneLength(1, 50)),
		// bcryptは72バイトまでしか扱えないため、パスワードのみバイト数で制限する
		validation.Field(&f.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&f.Email, validation.Required, is.Email),
		validation.Field(&f.FirstName, validation.Required, validation.RuneLength(1, 100)),
		validation.Field(&f.LastName, validation.Required, validation.RuneLength(1, 100)),
	)
}

// Login はユーザー名とパスワードで認証し、トークンCookieを発行する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	// 1. 認証
	principal, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.metrics.RecordAuthFailure(apiErr.Code)
		}
		handleServiceError(w, err)
		return
	}

	// 2. トークンを発行してCookieに設定
	if !h.setTokenCookie(w, principal, h.auth.IssueToken) {
		return
	}

	slog.Info("member logged in", slog.String("user_id", principal.ID))
	writeJSON(w, http.StatusOK, loginResponse{
		Status:   "success",
		Message:  "Login successful",
		Username: principal.ID,
	})
}

// Logout はトークンCookieを削除する。サーバー側に破棄すべきセッションはない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.tokenCookie("", -1))
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

// Register はメンバーを登録する。プロフィール画像（file）は任意。
// POST /api/auth/register (multipart/form-data)
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		writeMultipartError(w, err)
		return
	}

	form := registerForm{
		Username:  r.FormValue("username"),
		Password:  r.FormValue("password"),
		Email:     r.FormValue("email"),
		FirstName: r.FormValue("firstName"),
		LastName:  r.FormValue("lastName"),
	}
	if err := form.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	photo, err := readOptionalImage(r, "file")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	m, err := h.members.Register(r.Context(), member.RegisterInput{
		Username:  form.Username,
		Password:  form.Password,
		Email:     form.Email,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Photo:     photo,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Status:  "success",
		Message: "User registered successfully",
		Data:    registerData{UserID: m.ID, Email: m.Email},
	})
}

// setTokenCookie はissueで発行したトークンをCookieに設定する。失敗した場合は500を書き込む。
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, principal *model.Principal, issue func(*model.Principal) (string, time.Time, error)) bool {
	tok, _, err := issue(principal)
	if err != nil {
		handleServiceError(w, err)
		return false
	}
	http.SetCookie(w, h.tokenCookie(tok, int(h.auth.TokenTTL().Seconds())))
	return true
}

func (h *AuthHandler) tokenCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

// readOptionalImage はmultipartフォームの画像ファイルを読み込む。
// ファイルが指定されていない場合はnilを返す。
func readOptionalImage(r *http.Request, field string) (*storage.Object, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewInvalidArgumentError("ファイルの読み込みに失敗しました")
	}
	defer file.Close()

	return readImage(file, header)
}

// readImage はアップロードされたファイルを読み込み、画像であることを検証する。
func readImage(file multipart.File, header *multipart.FileHeader) (*storage.Object, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, model.NewInvalidArgumentError("ファイルの読み込みに失敗しました")
	}

	obj := storage.Object{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}
	contentType, err := storage.ValidateImage(obj)
	if err != nil {
		return nil, err
	}
	obj.ContentType = contentType
	return &obj, nil
}

// writeMultipartError はmultipartフォームの解析エラーを返す。サイズ超過は413とする。
func writeMultipartError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
			model.NewInvalidArgumentError("ファイルサイズが上限を超えています"))
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest,
		model.NewInvalidArgumentError("フォームの解析に失敗しました"))
}
