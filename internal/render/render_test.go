package render_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oarkflow/followupd/internal/render"
)

func TestRender_DefaultTemplate_SubstitutesKnownVars(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{
		ClientName:   "Jordan",
		FollowupType: "invoice",
		DueDate:      "2026-08-05",
	}, render.Branding{CompanyName: "Acme"})

	assert.Contains(t, html, "Hi Jordan,")
	assert.Contains(t, html, "Just a quick reminder about invoice.")
	assert.Contains(t, html, "2026-08-05")
	assert.Contains(t, html, "Acme")
}

func TestRender_EmptyClientName_FallsBackToThere(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{}, render.Branding{})
	assert.Contains(t, html, "Hi there,")
}

func TestRender_ConditionalOmittedWhenVarEmpty(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{ClientName: "Sam"}, render.Branding{})
	assert.NotContains(t, html, "Due date:")
}

func TestRender_ConditionalIncludedWhenVarPresent(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{
		ClientName: "Sam", DueDate: "2026-09-01",
	}, render.Branding{})
	assert.Contains(t, html, "Due date:")
	assert.Contains(t, html, "2026-09-01")
}

func TestRender_UnknownVarTagsAreDropped(t *testing.T) {
	html := render.Render(`<p>{{secret}}</p>{% if secret %}leak{% endif %}`, render.FollowupData{}, render.Branding{})
	assert.NotContains(t, html, "leak")
	assert.Contains(t, html, "<p></p>")
}

func TestRender_SanitizesDisallowedTagsButKeepsText(t *testing.T) {
	html := render.Render(`<script>alert(1)</script><p>safe {{name}}</p>`, render.FollowupData{ClientName: "Lee"}, render.Branding{})
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "alert(1)")
	assert.Contains(t, html, "safe Lee")
}

func TestRender_StripsJavascriptHref(t *testing.T) {
	html := render.Render(`<a href="javascript:alert(1)">click</a>`, render.FollowupData{}, render.Branding{})
	assert.NotContains(t, html, "javascript:")
}

func TestRender_MessageOverride_UsesRestrictedPath(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{
		MessageOverride: "Hello there\nSecond line <img src=x onerror=alert(1)>",
	}, render.Branding{})
	assert.Contains(t, html, "Hello there<br />Second line")
	assert.NotContains(t, html, "<img")
	assert.Contains(t, html, "&lt;img src=x onerror=alert(1)&gt;")
}

func TestRender_SupportEmailBuildsDefaultFooter(t *testing.T) {
	html := render.Render(render.DefaultTemplate, render.FollowupData{ClientName: "Jo"}, render.Branding{
		SupportEmail: "help@example.com",
	})
	assert.Contains(t, html, "Need help? Contact help@example.com")
}

func TestRender_LinkifiesBareURLInText(t *testing.T) {
	html := render.Render(`<p>{{description}}</p>`, render.FollowupData{
		Description: "See https://example.com/invoice for details",
	}, render.Branding{})
	assert.Contains(t, html, `<a href="https://example.com/invoice"`)
}
