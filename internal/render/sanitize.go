package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// No allow-list HTML sanitizer library exists anywhere in the retrieval
// pack; golang.org/x/net/html's tokenizer is the nearest real dependency
// and the correct primitive to build one on (see DESIGN.md).

var templateAllowedTags = map[string]bool{
	"div": true, "p": true, "br": true, "b": true, "strong": true,
	"i": true, "em": true, "ul": true, "ol": true, "li": true,
	"span": true, "small": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"a": true, "img": true, "hr": true, "table": true, "thead": true,
	"tbody": true, "tr": true, "th": true, "td": true,
}

var templateAllowedAttrs = map[string]map[string]bool{
	"*":   {"style": true},
	"a":   {"href": true, "target": true, "rel": true},
	"img": {"src": true, "alt": true, "width": true, "height": true, "style": true},
}

var overrideAllowedTags = map[string]bool{
	"b": true, "strong": true, "i": true, "em": true, "u": true, "br": true,
	"p": true, "ul": true, "ol": true, "li": true, "div": true, "span": true, "a": true,
}

var overrideAllowedAttrs = map[string]map[string]bool{
	"a": {"href": true, "target": true, "rel": true},
}

// dangerousURLPrefixes blocks script-executing schemes regardless of the
// attribute allow list.
var dangerousURLPrefixes = []string{"javascript:", "vbscript:", "data:text/html"}

func sanitizeTemplateHTML(in string) string {
	return sanitize(in, templateAllowedTags, templateAllowedAttrs)
}

func sanitizeMessageOverrideHTML(in string) string {
	return sanitize(in, overrideAllowedTags, overrideAllowedAttrs)
}

// sanitize walks the token stream of in and re-emits only allow-listed
// tags and attributes. Disallowed tags are dropped but their text content
// is preserved, matching bleach's strip=True behavior, except for
// script/style whose content is dropped entirely since no template or
// message_override use case ever needs it.
func sanitize(in string, allowedTags map[string]bool, allowedAttrs map[string]map[string]bool) string {
	z := html.NewTokenizer(strings.NewReader(in))
	var out strings.Builder
	skipDepth := 0 // depth inside a dropped script/style element

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name := tok.Data
			if name == "script" || name == "style" {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if !allowedTags[name] {
				continue
			}
			writeTag(&out, tok, allowedAttrs, tt == html.SelfClosingTagToken)

		case html.EndTagToken:
			name := tok.Data
			if name == "script" || name == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if !allowedTags[name] {
				continue
			}
			if isVoidElement(name) {
				continue
			}
			out.WriteString("</")
			out.WriteString(name)
			out.WriteString(">")

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			out.WriteString(linkify(html.EscapeString(tok.Data)))

		case html.CommentToken, html.DoctypeToken:
			// dropped entirely
		}
	}
	return out.String()
}

func writeTag(out *strings.Builder, tok html.Token, allowedAttrs map[string]map[string]bool, selfClose bool) {
	out.WriteString("<")
	out.WriteString(tok.Data)
	for _, attr := range tok.Attr {
		key := strings.ToLower(attr.Key)
		if !attrAllowed(tok.Data, key, allowedAttrs) {
			continue
		}
		if (key == "href" || key == "src") && isDangerousURL(attr.Val) {
			continue
		}
		out.WriteString(" ")
		out.WriteString(key)
		out.WriteString(`="`)
		out.WriteString(html.EscapeString(attr.Val))
		out.WriteString(`"`)
	}
	if selfClose || isVoidElement(tok.Data) {
		out.WriteString(" />")
	} else {
		out.WriteString(">")
	}
}

func attrAllowed(tag, attr string, allowedAttrs map[string]map[string]bool) bool {
	if allowedAttrs["*"][attr] {
		return true
	}
	return allowedAttrs[tag][attr]
}

func isDangerousURL(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	for _, p := range dangerousURLPrefixes {
		if strings.HasPrefix(lv, p) {
			return true
		}
	}
	return false
}

func isVoidElement(name string) bool {
	switch atom.Lookup([]byte(name)) {
	case atom.Br, atom.Hr, atom.Img:
		return true
	}
	return false
}

var linkifyRe = regexp.MustCompile(`https?://[^\s<>"']+`)

// linkify wraps bare http(s) URLs found in a single text node with <a>
// tags, matching the original's bleach.linkify pass. Called per text
// token rather than over the whole document so it can never rewrite a
// URL already inside a tag's attribute value.
func linkify(in string) string {
	return linkifyRe.ReplaceAllStringFunc(in, func(u string) string {
		return `<a href="` + u + `" rel="nofollow">` + u + `</a>`
	})
}
