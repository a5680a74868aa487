// Package storage は投稿画像・プロフィール画像のオブジェクトストレージを提供する。
package storage

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/snapboard/internal/model"
)

// Kind はオブジェクトの種別を表し、キーのフォルダ名として使用される。
type Kind string

const (
	// KindProfilePhoto はプロフィール画像。
	KindProfilePhoto Kind = "profile-photos"
	// KindPostImage は投稿画像。
	KindPostImage Kind = "profile-posts"
)

// Valid は定義済みの種別かを返す。
func (k Kind) Valid() bool {
	return k == KindProfilePhoto || k == KindPostImage
}

// Object はアップロードするバイナリとそのメタデータ。
type Object struct {
	Data        []byte
	ContentType string
	Filename    string
}

// ObjectInfo は一覧取得したオブジェクトの情報。
type ObjectInfo struct {
	Key          string
	LastModified time.Time
}

// ObjectStore はオブジェクトストレージのインターフェース。
type ObjectStore interface {
	// Upload はオブジェクトを<ownerID>/<kind>/<生成名>のキーで保存し、キーを返す。
	Upload(ctx context.Context, obj Object, kind Kind, ownerID string) (string, error)

	// Delete は指定キーのオブジェクトを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error

	// PresignReadURL は指定キーの読み取り用署名付きURLを生成する。
	PresignReadURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List はバケット内の全オブジェクトを返す。
	List(ctx context.Context) ([]ObjectInfo, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// SanitizeFilename はファイル名の英数字・ピリオド・ハイフン以外をアンダースコアに置き換える。
func SanitizeFilename(name string) string {
	// パス区切りを含む場合は末尾の要素のみ使う
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "upload"
	}
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// ObjectKey はオブジェクトキー<ownerID>/<kind>/<unixMilli>_<id>_<sanitized>を生成する。
// 同一ミリ秒に同名ファイルがアップロードされても衝突しないよう、idには一意な値を渡す。
func ObjectKey(ownerID string, kind Kind, filename string, now time.Time, id string) string {
	return fmt.Sprintf("%s/%s/%d_%s_%s", ownerID, kind, now.UnixMilli(), id, SanitizeFilename(filename))
}

// ParseObjectKey はキーを所有者・種別に分解する。管理対象外の形式の場合はokがfalseとなる。
func ParseObjectKey(key string) (ownerID string, kind Kind, ok bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	kind = Kind(parts[1])
	if !kind.Valid() {
		return "", "", false
	}
	return parts[0], kind, true
}

// ValidateImage はアップロード対象が空でない画像であることを検証し、Content-Typeを確定して返す。
// Content-Typeはクライアントの申告値を使わず、常に先頭バイトから判定する。
func ValidateImage(obj Object) (string, error) {
	if len(obj.Data) == 0 {
		return "", model.NewInvalidArgumentError("ファイルが空です")
	}

	contentType := http.DetectContentType(obj.Data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", model.NewInvalidArgumentError("画像ファイルを指定してください")
	}
	return contentType, nil
}
