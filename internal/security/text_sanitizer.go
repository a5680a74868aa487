// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はキャプションやコメントなどのユーザー入力から
// HTMLタグを除去し、プレーンテキストとして保存できる形に整える。
// bluemondayのStrictPolicyを使用し、すべてのタグと属性を除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText はタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script、styleタグは内容ごと除去される。
	// 出力を再度サニタイズしても変化しない（冪等）。
	// ただし文字実体参照がmaxSanitizePassesを超えて多重にエスケープされた入力は例外とする。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなため、複数リクエストから共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses はSanitizeTextが出力の安定を待つ最大の繰り返し回数。
const maxSanitizePasses = 8

// SanitizeText はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体参照は元の文字に戻す。
// 戻した文字がタグを形成する場合があるため、出力が変化しなくなるまで繰り返す。
// 出力はJSONの文字列としてのみ返却され、HTMLとして解釈されることはない。
func (s *textSanitizer) SanitizeText(raw string) string {
	text := raw
	for i := 0; i < maxSanitizePasses && text != ""; i++ {
		next := s.sanitizeOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (s *textSanitizer) sanitizeOnce(raw string) string {
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
