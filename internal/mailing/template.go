// Package mailing renders per-recipient email content: Liquid template
// substitution for subject and body, plus the unsubscribe footer and
// view-in-browser link every campaign email carries.
package mailing

import (
	"fmt"
	"html"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateEngine renders Liquid templates with a parsed-template cache.
// Rendering is lax: on any template error the original content is used
// unchanged, so a malformed snapshot degrades to an unpersonalized send
// rather than a failed one.
type TemplateEngine struct {
	engine *liquid.Engine
	cache  sync.Map // cacheKey -> *liquid.Template
}

// NewTemplateEngine creates an engine with the custom filters registered.
func NewTemplateEngine() *TemplateEngine {
	te := &TemplateEngine{engine: liquid.NewEngine()}
	te.registerFilters()
	return te
}

func (te *TemplateEngine) registerFilters() {
	// {{ first_name | default: "Friend" }}
	te.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | capitalize }}
	te.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})

	// {{ email | urlencode }}
	te.engine.RegisterFilter("urlencode", url.QueryEscape)

	// {{ user_input | escape }}
	te.engine.RegisterFilter("escape", html.EscapeString)

	// {{ email | email_domain }}
	te.engine.RegisterFilter("email_domain", func(email string) string {
		if at := strings.LastIndex(email, "@"); at >= 0 {
			return email[at+1:]
		}
		return ""
	})
}

// Render processes a template against the given variables. cacheKey should
// be stable for a given content snapshot (campaign ID plus field name) so
// repeated renders skip reparsing; pass "" to bypass the cache.
func (te *TemplateEngine) Render(cacheKey, templateStr string, vars map[string]interface{}) string {
	var tpl *liquid.Template
	if cacheKey != "" {
		if cached, ok := te.cache.Load(cacheKey); ok {
			tpl = cached.(*liquid.Template)
		}
	}

	if tpl == nil {
		parsed, err := te.engine.ParseString(templateStr)
		if err != nil {
			log.Printf("[Mailing] Template parse error (key %s): %v", cacheKey, err)
			return templateStr
		}
		tpl = parsed
		if cacheKey != "" {
			te.cache.Store(cacheKey, tpl)
		}
	}

	out, err := tpl.RenderString(vars)
	if err != nil {
		log.Printf("[Mailing] Template render error (key %s): %v", cacheKey, err)
		return templateStr
	}
	return out
}

// ClearCache drops all cached parsed templates.
func (te *TemplateEngine) ClearCache() {
	te.cache = sync.Map{}
}
