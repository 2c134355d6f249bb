package security

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ExtractExcerpt はHTML本文からタグを除いたプレーンテキストの抜粋を返す。
// 一覧表示用に maxRunes 文字で切り詰め、切り詰めた場合は"…"を付与する。
// パースできない入力は元の文字列をそのまま切り詰めて返す。
func ExtractExcerpt(rawHTML string, maxRunes int) string {
	text := extractText(rawHTML)
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}

// extractText はHTMLからテキストノードだけを集める。
func extractText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
