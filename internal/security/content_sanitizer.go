// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は抽出した記事HTMLを保存前にサニタイズし、
// 下流の読み取り側コラボレーターをXSS等のリスクから保護する。
// bluemondayの許可リストベースのポリシーで安全なタグのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, ul, ol, li, blockquote, pre, code, strong, em, h1-h4）のみを
	// 通過させ、script, iframe, styleタグおよびon*イベント属性を除去する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// PlainText はHTMLからタグを全て除去し、空白を正規化したプレーンテキストを返す。
	// 本文の正規化、content_hashの計算、言語判定の入力に使用される。
	PlainText(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフで、全パイプラインで共有される。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 保存用ポリシーは本文構造タグのみ許可し、リンク・画像は保持しない
// （パイプラインの保存対象は記事テキストであり、埋め込みリソースは含めない）。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h1", "h2", "h3", "h4",
	)

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// PlainText はHTMLからタグを全て除去し、連続する空白を1つに畳み込んだテキストを返す。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	text := s.strict.Sanitize(rawHTML)
	return strings.Join(strings.Fields(text), " ")
}
