package scrape

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newspipe/internal/model"
)

// minBodyLength は抽出結果を「有意な本文」とみなす最小文字数。
// これ未満の結果しか得られない戦略はスキップし、次の戦略を試す。
const minBodyLength = 80

// ExtractStrategy は記事ページから構造化コンテンツを抽出する純関数。
// 抽出できない場合はnilを返し、次の戦略にフォールバックする。
type ExtractStrategy func(doc *goquery.Document) *model.ParsedArticle

// Extractor は戦略チェーンによる記事抽出を行う。
// 戦略はクラス階層ではなく順序付きの関数リストとして保持し、
// 最初に有意なコンテンツを返した戦略で停止する。
type Extractor struct {
	strategies []ExtractStrategy
}

// NewExtractor は既定の戦略チェーンを持つExtractorを生成する。
// 順序: JSON-LD構造化データ → 本文セレクタ → メタタグフォールバック。
func NewExtractor() *Extractor {
	return &Extractor{
		strategies: []ExtractStrategy{
			extractJSONLD,
			extractBySelectors,
			extractMetaTags,
		},
	}
}

// Extract はHTML文字列から記事を抽出する。
// 全戦略が失敗した場合はParseErrorを返す。
func (e *Extractor) Extract(sourceID, pageURL, html string) (*model.ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, NewError(ErrorKindParse, sourceID, "HTMLの解析に失敗しました", err)
	}

	for _, strategy := range e.strategies {
		article := strategy(doc)
		if article == nil {
			continue
		}
		article.URL = pageURL
		article.Title = normalizeWhitespace(article.Title)
		article.Body = normalizeWhitespace(article.Body)
		if article.Title == "" {
			continue
		}
		return article, nil
	}

	return nil, NewError(ErrorKindParse, sourceID, "全ての抽出戦略が失敗しました: "+pageURL, nil)
}

// jsonLDArticle はJSON-LDのArticle系スキーマの必要フィールドのみを写像する。
type jsonLDArticle struct {
	Type          any    `json:"@type"`
	Headline      string `json:"headline"`
	ArticleBody   string `json:"articleBody"`
	DatePublished string `json:"datePublished"`
	Author        any    `json:"author"`
}

// extractJSONLD はscript[type="application/ld+json"]のArticle系ブロックから抽出する。
// 機械可読な構造化データが存在する場合はこれが最も信頼できる。
func extractJSONLD(doc *goquery.Document) *model.ParsedArticle {
	var result *model.ParsedArticle

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		// 単一オブジェクトと配列の両形式に対応する
		var candidates []jsonLDArticle
		var single jsonLDArticle
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			candidates = append(candidates, single)
		} else {
			var many []jsonLDArticle
			if err := json.Unmarshal([]byte(raw), &many); err == nil {
				candidates = append(candidates, many...)
			}
		}

		for _, c := range candidates {
			if !isArticleType(c.Type) || c.Headline == "" || len(c.ArticleBody) < minBodyLength {
				continue
			}
			article := &model.ParsedArticle{
				Title:    c.Headline,
				Body:     c.ArticleBody,
				BodyHTML: "",
				Author:   jsonLDAuthorName(c.Author),
			}
			if c.DatePublished != "" {
				if t, err := time.Parse(time.RFC3339, c.DatePublished); err == nil {
					article.PublicationDate = &t
				}
			}
			result = article
			return false
		}
		return true
	})

	return result
}

// isArticleType は@typeがArticle系（Article / NewsArticle / BlogPosting等）かを判定する。
func isArticleType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.Contains(v, "Article") || v == "BlogPosting"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && (strings.Contains(s, "Article") || s == "BlogPosting") {
				return true
			}
		}
	}
	return false
}

// jsonLDAuthorName はauthorフィールド（文字列・オブジェクト・配列）から名前を取り出す。
func jsonLDAuthorName(author any) string {
	switch v := author.(type) {
	case string:
		return v
	case map[string]any:
		if name, ok := v["name"].(string); ok {
			return name
		}
	case []any:
		if len(v) > 0 {
			return jsonLDAuthorName(v[0])
		}
	}
	return ""
}

// bodySelectors は一般的な記事本文のセレクタ。優先順に試す。
var bodySelectors = []string{
	"article",
	`[itemprop="articleBody"]`,
	".article-body",
	".article-content",
	".post-content",
	".entry-content",
	".story-body",
	"main",
}

// extractBySelectors は既知の本文セレクタを順に試し、
// 最初に有意なテキストが得られた要素から抽出する。
func extractBySelectors(doc *goquery.Document) *model.ParsedArticle {
	title := pageTitle(doc)

	for _, selector := range bodySelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}

		// 本文要素内のノイズを除去してから評価する
		sel.Find("script, style, nav, aside, footer, form").Remove()

		text := strings.TrimSpace(sel.Text())
		if len(text) < minBodyLength {
			continue
		}

		html, err := sel.Html()
		if err != nil {
			html = ""
		}

		return &model.ParsedArticle{
			Title:           title,
			Body:            text,
			BodyHTML:        html,
			Author:          metaContent(doc, `meta[name="author"]`),
			PublicationDate: metaPublishedTime(doc),
		}
	}

	return nil
}

// extractMetaTags はOpen Graph・metaタグのみから抽出する最終フォールバック。
// 本文はog:description / meta descriptionで代用される。
func extractMetaTags(doc *goquery.Document) *model.ParsedArticle {
	title := metaContent(doc, `meta[property="og:title"]`)
	if title == "" {
		title = pageTitle(doc)
	}

	body := metaContent(doc, `meta[property="og:description"]`)
	if body == "" {
		body = metaContent(doc, `meta[name="description"]`)
	}

	if title == "" || body == "" {
		return nil
	}

	return &model.ParsedArticle{
		Title:           title,
		Body:            body,
		Author:          metaContent(doc, `meta[name="author"]`),
		PublicationDate: metaPublishedTime(doc),
	}
}

// pageTitle は<title>またはog:titleからページタイトルを取得する。
func pageTitle(doc *goquery.Document) string {
	if og := metaContent(doc, `meta[property="og:title"]`); og != "" {
		return og
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// metaContent は指定セレクタのcontent属性を返す。
func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// metaPublishedTime はarticle:published_timeメタタグから公開日時を取得する。
func metaPublishedTime(doc *goquery.Document) *time.Time {
	raw := metaContent(doc, `meta[property="article:published_time"]`)
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	return nil
}

// normalizeWhitespace は連続する空白・改行を1つのスペースに畳み込む。
// コンテンツハッシュの安定性のため、保存前に必ず適用される。
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
