package outreach

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ignite/lifecycle-engine/internal/config"
	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/osteele/liquid"
)

// Message is a rendered outbound message.
type Message struct {
	Template string
	Subject  string
	Body     string
}

// Renderer renders named liquid templates against a customer and the
// action's parameters. Parsed templates are cached by source.
type Renderer struct {
	engine    *liquid.Engine
	templates map[string]config.TemplateConfig
	cache     sync.Map // source → *liquid.Template
}

func NewRenderer(templates map[string]config.TemplateConfig) *Renderer {
	engine := liquid.NewEngine()
	engine.RegisterFilter("first_name", func(s string) string {
		if f := strings.Fields(s); len(f) > 0 {
			return f[0]
		}
		return s
	})
	return &Renderer{engine: engine, templates: templates}
}

// Render resolves params["template"] against the configured templates.
// Without a named template, inline "subject" and "body" (or "message")
// params are rendered instead.
func (r *Renderer) Render(c *domain.Customer, params map[string]any) (Message, error) {
	name, _ := params["template"].(string)
	var tc config.TemplateConfig
	switch {
	case name != "":
		var ok bool
		if tc, ok = r.templates[name]; !ok {
			return Message{}, &domain.ValidationError{Field: "template", Message: fmt.Sprintf("unknown template %q", name)}
		}
	default:
		tc.Subject, _ = params["subject"].(string)
		tc.Body, _ = params["body"].(string)
		if tc.Body == "" {
			tc.Body, _ = params["message"].(string)
		}
		if tc.Body == "" {
			return Message{}, &domain.ValidationError{Field: "template", Message: "no template or inline body"}
		}
	}

	b := bindings(c, params)
	subject, err := r.render(tc.Subject, b)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	body, err := r.render(tc.Body, b)
	if err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{Template: name, Subject: subject, Body: body}, nil
}

func (r *Renderer) render(src string, b liquid.Bindings) (string, error) {
	if src == "" {
		return "", nil
	}
	if cached, ok := r.cache.Load(src); ok {
		out, err := cached.(*liquid.Template).RenderString(b)
		if err != nil {
			return "", err
		}
		return out, nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return "", err
	}
	r.cache.Store(src, tpl)
	out, err := tpl.RenderString(b)
	if err != nil {
		return "", err
	}
	return out, nil
}

func bindings(c *domain.Customer, params map[string]any) liquid.Bindings {
	b := liquid.Bindings{}
	for k, v := range params {
		b[k] = v
	}
	b["params"] = params
	b["customer"] = map[string]any{
		"id":               c.ID,
		"business_name":    c.BusinessName,
		"contact_name":     c.ContactName,
		"email":            c.Email,
		"phone":            c.Phone,
		"industry":         c.Industry,
		"stage":            string(c.Stage()),
		"engagement_score": c.EngagementScore,
		"engagement_tier":  c.EngagementTier,
		"trial_active":     c.TrialActive,
		"custom":           c.CustomFields,
	}
	return b
}
