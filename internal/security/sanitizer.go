// Package security はユーザー入力のサニタイズ機能を提供する。
//
// 商品説明は限られたタグのみを許可するHTMLとして保存し、
// 商品名などのプレーンテキスト項目はタグをすべて除去する。
package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は商品入力のサニタイズ機能のインターフェース。
type Sanitizer interface {
	// HTML は許可リストに含まれるタグのみを残したHTMLを返す。
	HTML(raw string) string
	// Text はタグをすべて除去し、前後の空白を取り除いた文字列を返す。
	Text(raw string) string
}

// productSanitizer はSanitizerの実装。
// bluemondayのポリシーはスレッドセーフのため共有して使う。
type productSanitizer struct {
	html *bluemonday.Policy
	text *bluemonday.Policy
}

// NewProductSanitizer は商品入力用のSanitizerを生成する。
//   - 許可タグ: p, br, ul, ol, li, strong, em, a
//   - aのhref: httpsの絶対URLのみ。target="_blank"とrel="noopener noreferrer"を付与
//   - 画像、スクリプト、スタイル、on*属性はすべて除去
func NewProductSanitizer() *productSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &productSanitizer{
		html: p,
		text: bluemonday.StrictPolicy(),
	}
}

// HTML は商品説明をサニタイズする。
func (s *productSanitizer) HTML(raw string) string {
	return strings.TrimSpace(s.html.Sanitize(raw))
}

// Text は商品名をサニタイズする。
func (s *productSanitizer) Text(raw string) string {
	return strings.TrimSpace(s.text.Sanitize(raw))
}

var _ Sanitizer = (*productSanitizer)(nil)
