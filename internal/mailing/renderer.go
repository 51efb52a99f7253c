package mailing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cosmic-community/ssf-mailer-sub002/internal/domain"
)

// Renderer produces the final per-recipient subject and HTML body from a
// campaign's content snapshot.
type Renderer struct {
	templates *TemplateEngine
	baseURL   string
}

// NewRenderer creates a renderer. baseURL is the public origin for
// unsubscribe and view-in-browser links; empty disables both.
func NewRenderer(templates *TemplateEngine, baseURL string) *Renderer {
	return &Renderer{templates: templates, baseURL: strings.TrimRight(baseURL, "/")}
}

// Personalize renders the campaign's subject and body for one contact and
// appends the compliance footer.
func (r *Renderer) Personalize(c *domain.Campaign, contact *domain.Contact) (subject, htmlBody string) {
	vars := map[string]interface{}{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"name":       contact.FullName(),
		"email":      contact.Email,
	}

	subject = r.templates.Render(c.ID+":subject", c.Subject, vars)
	htmlBody = r.templates.Render(c.ID+":body", c.HTMLBody, vars)
	htmlBody = r.injectFooter(htmlBody, c, contact)
	return subject, htmlBody
}

// injectFooter appends the unsubscribe footer and view-in-browser link,
// placed just before </body> when the document has one so email clients
// keep it at the bottom.
func (r *Renderer) injectFooter(body string, c *domain.Campaign, contact *domain.Contact) string {
	if r.baseURL == "" {
		return body
	}

	unsubscribe := fmt.Sprintf("%s/unsubscribe?email=%s&campaign=%s",
		r.baseURL, url.QueryEscape(contact.Email), url.QueryEscape(c.ID))
	viewInBrowser := fmt.Sprintf("%s/campaigns/%s/view?contact=%s",
		r.baseURL, url.PathEscape(c.ID), url.QueryEscape(contact.ID))

	footer := fmt.Sprintf(`<div style="margin-top:32px;padding-top:16px;border-top:1px solid #e5e5e5;font-size:12px;color:#888;text-align:center;">`+
		`<p><a href="%s" style="color:#888;">View in browser</a></p>`+
		`<p>No longer want these emails? <a href="%s" style="color:#888;">Unsubscribe</a></p>`+
		`</div>`, viewInBrowser, unsubscribe)

	if idx := strings.LastIndex(strings.ToLower(body), "</body>"); idx >= 0 {
		return body[:idx] + footer + body[idx:]
	}
	return body + footer
}
