package security

import (
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "夕焼けがきれい", "夕焼けがきれい"},
		{"前後の空白を除去", "  hello  ", "hello"},
		{"タグを除去", "<b>bold</b> text", "bold text"},
		{"scriptは内容ごと除去", `hi<script>alert("x")</script>`, "hi"},
		{"イベント属性付きタグを除去", `<img src=x onerror="alert(1)">caption`, "caption"},
		{"アンパサンドは元の文字のまま", "Tom & Jerry", "Tom & Jerry"},
		{"引用符は元の文字のまま", `it's "great"`, `it's "great"`},
		{"タグのみは空文字列", "<p></p>", ""},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()
	inputs := []string{
		"<a href=\"javascript:alert(1)\">click</a> me",
		"a < b && c > d",
		"<style>body{}</style>本文",
		"&lt;b&gt;x",
		"&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;ok",
	}

	for _, in := range inputs {
		once := sanitizer.SanitizeText(in)
		twice := sanitizer.SanitizeText(once)
		if strings.Contains(once, "<a") || strings.Contains(once, "<style") {
			t.Errorf("SanitizeText(%q) = %q still contains markup", in, once)
		}
		if once != twice {
			t.Errorf("SanitizeText not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestSanitizeText_EscapedMarkupIsStripped(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"エスケープされたタグ", "&lt;b&gt;x", "x"},
		{"二重にエスケープされたscript", "&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;ok", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
