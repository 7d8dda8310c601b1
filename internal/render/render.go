// Package render implements the Template Renderer: a restricted
// {{ var }} / {% if var %} grammar over an allow-listed variable set,
// followed by allow-list HTML sanitization, ported from
// original_source/scheduler_render.py.
package render

import (
	"html"
	"regexp"
	"strings"
)

// DefaultTemplate is used for a user with no custom Template row.
const DefaultTemplate = `<div style="font-family:Arial,sans-serif; font-size:14px; color:#111;">
  {% if brand_logo %}
    <div style="margin-bottom:10px;">
      <img src="{{brand_logo}}" alt="{{company_name}}" style="height:36px">
    </div>
  {% endif %}

  <p>Hi {{name}},</p>
  <p>Just a quick reminder about {{type}}.</p>

  {% if description %}
    <p>{{description}}</p>
  {% endif %}

  {% if due_date %}
    <p><b>Due date:</b> {{due_date}}</p>
  {% endif %}

  <p>Thanks,<br>{{sender}}</p>

  {% if footer %}
    <hr>
    <small style="color:#64748b;">{{footer}}</small>
  {% endif %}
</div>`

const personalMessageWrapper = `<div style="
  font-family: Arial, sans-serif;
  font-size: 14px;
  color: #111;
  line-height: 1.6;
">
  <div style="
    max-width: 600px;
    margin: 0 auto;
    padding: 16px;
  ">
    {{content}}
  </div>
</div>`

// allowedVars is the entire variable surface the grammar may reference.
// Anything else is treated as unknown: conditionals evaluate false, and
// interpolations vanish.
var allowedVars = map[string]bool{
	"name":          true,
	"type":          true,
	"description":   true,
	"sender":        true,
	"company_name":  true,
	"due_date":      true,
	"brand_logo":    true,
	"support_email": true,
	"footer":        true,
	"content":       true,
}

var (
	ifOpenRe  = regexp.MustCompile(`{%\s*if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*%}`)
	ifCloseRe = regexp.MustCompile(`{%\s*endif\s*%}`)
	varRe     = regexp.MustCompile(`{{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*}}`)
)

// Branding is the per-user styling data pulled in from model.User at
// render time.
type Branding struct {
	CompanyName  string
	SupportEmail string
	Footer       string
	Logo         string
}

// FollowupData is the per-followup data pulled in from model.Followup at
// render time.
type FollowupData struct {
	ClientName      string
	FollowupType    string
	Description     string
	DueDate         string
	MessageOverride string
}

// Render produces the final HTML document for one outgoing email. If
// data.MessageOverride is non-empty, it takes the separate, more
// restrictive message_override path instead of the template grammar.
func Render(tmpl string, data FollowupData, branding Branding) string {
	sender := strings.TrimSpace(branding.CompanyName)
	if sender == "" {
		sender = "Your Company"
	}
	supportEmail := strings.TrimSpace(branding.SupportEmail)
	footer := strings.TrimSpace(branding.Footer)
	if supportEmail != "" && footer == "" {
		footer = "Need help? Contact " + supportEmail
	}

	if override := strings.TrimSpace(data.MessageOverride); override != "" {
		return renderMessageOverride(override)
	}

	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}

	vars := map[string]string{
		"name":          orDefault(data.ClientName, "there"),
		"type":          orDefault(data.FollowupType, "follow-up"),
		"description":   strings.TrimSpace(data.Description),
		"due_date":      strings.TrimSpace(data.DueDate),
		"sender":        sender,
		"company_name":  sender,
		"brand_logo":    strings.TrimSpace(branding.Logo),
		"support_email": supportEmail,
		"footer":        footer,
	}

	step1 := renderConditionals(tmpl, vars)
	step2 := renderVars(step1, vars)
	safe := sanitizeTemplateHTML(step2)
	wrapped := wrapPersonalMessage(safe)

	return wrapDocument(wrapped, false)
}

func renderMessageOverride(override string) string {
	body := strings.ReplaceAll(html.EscapeString(override), "\n", "<br>")
	safe := sanitizeMessageOverrideHTML(body)
	wrapped := strings.ReplaceAll(personalMessageWrapper, "{{content}}", safe)
	return wrapDocument(wrapped, true)
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

// renderConditionals evaluates nested {% if var %}...{% endif %} blocks
// line by line, matching the Python original's line-based stack approach.
// Every if/endif tag is first moved onto a line of its own, so text that
// shares a line with a tag is kept or dropped by the enclosing block alone.
// Unknown vars are treated as false; mismatched/unknown tags are stripped.
func renderConditionals(src string, data map[string]string) string {
	var out strings.Builder
	stack := []bool{true}

	src = ifOpenRe.ReplaceAllString(src, "\n$0\n")
	src = ifCloseRe.ReplaceAllString(src, "\n$0\n")

	for _, line := range splitKeepNewlines(src) {
		if m := ifOpenRe.FindStringSubmatch(line); m != nil {
			v := m[1]
			include := stack[len(stack)-1] && allowedVars[v] && truthy(data[v])
			stack = append(stack, include)
			continue
		}
		if ifCloseRe.MatchString(line) {
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if stack[len(stack)-1] {
			out.WriteString(line)
		}
	}
	return out.String()
}

func truthy(v string) bool {
	return strings.TrimSpace(v) != ""
}

func splitKeepNewlines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// renderVars interpolates {{ var }} against the allow list; unknown vars
// disappear rather than erroring, matching the original's silent-drop
// behavior.
func renderVars(src string, data map[string]string) string {
	return varRe.ReplaceAllStringFunc(src, func(tok string) string {
		m := varRe.FindStringSubmatch(tok)
		if m == nil || !allowedVars[m[1]] {
			return ""
		}
		return data[m[1]]
	})
}

func wrapPersonalMessage(innerHTML string) string {
	wrapped := strings.ReplaceAll(personalMessageWrapper, "{{content}}", innerHTML)
	return sanitizeTemplateHTML(wrapped)
}

func wrapDocument(body string, override bool) string {
	bodyStyle := ""
	if !override {
		bodyStyle = ` style="font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; padding:16px;"`
	}
	var b strings.Builder
	b.WriteString("<!doctype html>\n<html>\n<head>\n")
	b.WriteString(`  <meta charset="utf-8">` + "\n")
	b.WriteString(`  <meta name="viewport" content="width=device-width, initial-scale=1">` + "\n")
	b.WriteString("</head>\n<body")
	b.WriteString(bodyStyle)
	b.WriteString(">")
	if !override {
		b.WriteString("\n")
	}
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>")
	return b.String()
}
