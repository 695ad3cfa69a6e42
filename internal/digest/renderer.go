// Package digest renders the insight digest and the "still processing"
// notice into email messages using Liquid templates.
package digest

import (
	"fmt"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/insight-digest/internal/analyzer"
	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/service/notify"
)

// Recipient identifies who a message is rendered for.
type Recipient struct {
	UserID string
	Email  string
	Name   string
}

type compiled struct {
	subject, html, text *liquid.Template
}

// Renderer holds the parsed templates. It is safe for concurrent use.
type Renderer struct {
	appURL          string
	insights        compiled
	stillProcessing compiled
}

// NewRenderer parses the built-in templates. appURL is the base for links.
func NewRenderer(appURL string) (*Renderer, error) {
	engine := liquid.NewEngine()
	engine.RegisterFilter("first_name", firstName)

	r := &Renderer{appURL: strings.TrimRight(appURL, "/")}
	var err error
	if r.insights, err = compile(engine, insightsSubject, insightsHTML, insightsText); err != nil {
		return nil, fmt.Errorf("digest: insights template: %w", err)
	}
	if r.stillProcessing, err = compile(engine, stillProcessingSubject, stillProcessingHTML, stillProcessingText); err != nil {
		return nil, fmt.Errorf("digest: still-processing template: %w", err)
	}
	return r, nil
}

func compile(engine *liquid.Engine, subject, html, text string) (compiled, error) {
	var c compiled
	var err error
	if c.subject, err = engine.ParseString(subject); err != nil {
		return c, err
	}
	if c.html, err = engine.ParseString(html); err != nil {
		return c, err
	}
	if c.text, err = engine.ParseString(text); err != nil {
		return c, err
	}
	return c, nil
}

// Insights renders the digest for the given insights, in the order given.
func (r *Renderer) Insights(to Recipient, insights []domain.AnomalyInsight) (notify.Message, error) {
	items := make([]map[string]interface{}, 0, len(insights))
	for _, in := range insights {
		actions := make([]interface{}, len(in.ActionItems))
		for i, a := range in.ActionItems {
			actions[i] = a
		}
		items = append(items, map[string]interface{}{
			"headline":    in.Headline,
			"explanation": in.Explanation,
			"direction":   string(in.Direction),
			"current":     analyzer.FormatValue(in.Metric, in.CurrentValue),
			"expected":    analyzer.FormatValue(in.Metric, in.ExpectedValue),
			"change":      fmt.Sprintf("%+.1f%%", in.PercentChange),
			"actions":     actions,
		})
	}
	bindings := liquid.Bindings{
		"name":     to.Name,
		"app_url":  r.appURL,
		"count":    len(items),
		"insights": items,
	}
	return r.render(r.insights, to, domain.EmailInsights, bindings)
}

// StillProcessing renders the notice sent while no insights exist yet.
func (r *Renderer) StillProcessing(to Recipient) (notify.Message, error) {
	bindings := liquid.Bindings{
		"name":    to.Name,
		"app_url": r.appURL,
	}
	return r.render(r.stillProcessing, to, domain.EmailStillProcessing, bindings)
}

func (r *Renderer) render(c compiled, to Recipient, kind domain.EmailKind, b liquid.Bindings) (notify.Message, error) {
	subject, err := c.subject.RenderString(b)
	if err != nil {
		return notify.Message{}, fmt.Errorf("digest: render subject: %w", err)
	}
	html, err := c.html.RenderString(b)
	if err != nil {
		return notify.Message{}, fmt.Errorf("digest: render html: %w", err)
	}
	text, err := c.text.RenderString(b)
	if err != nil {
		return notify.Message{}, fmt.Errorf("digest: render text: %w", err)
	}
	return notify.Message{
		To:      to.Email,
		Subject: strings.TrimSpace(subject),
		HTML:    html,
		Text:    text,
		Tags:    map[string]string{"kind": string(kind), "user_id": to.UserID},
	}, nil
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
