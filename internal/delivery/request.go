// Package delivery implements the fan-out engine: one send request becomes
// one job per recipient, with per-recipient outcome tracked in redis sets.
package delivery

import (
	"strings"

	"github.com/relaygate/relaygate/internal/provider"
)

// Target is one recipient of a fan-out with its substitution variables.
type Target struct {
	RecipientID string            `json:"recipient_id" validate:"required"`
	Vars        map[string]string `json:"vars,omitempty"`
}

// DataItem is one field of a templated payload before rendering.
type DataItem struct {
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// Payload is the message template of a fan-out. Which fields matter
// depends on Kind; variable placeholders ({name}) are substituted per
// target at schedule time.
type Payload struct {
	Kind string `json:"kind" validate:"required,oneof=text news image card template"`

	Text string `json:"text,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	PicURL      string `json:"pic_url,omitempty"`

	MediaID string `json:"media_id,omitempty"`

	PagePath string `json:"page_path,omitempty"`
	AppRef   string `json:"app_ref,omitempty"`

	TemplateID string              `json:"template_id,omitempty"`
	Data       map[string]DataItem `json:"data,omitempty"`
}

// Request is one fan-out submission. Time is epoch seconds; zero means
// immediate. Track controls whether a tracking record is created.
type Request struct {
	TenantID     string   `json:"tenant_id" validate:"required"`
	Targets      []Target `json:"targets" validate:"required,min=1,dive"`
	Payload      Payload  `json:"payload" validate:"required"`
	Time         int64    `json:"time" validate:"gte=0"`
	HighPriority bool     `json:"high_priority"`
	Track        bool     `json:"track"`
}

// UniqueTargets deduplicates targets by recipient id, first occurrence
// winning.
func (r *Request) UniqueTargets() []Target {
	seen := make(map[string]struct{}, len(r.Targets))
	out := make([]Target, 0, len(r.Targets))
	for _, t := range r.Targets {
		if _, ok := seen[t.RecipientID]; ok {
			continue
		}
		seen[t.RecipientID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Render produces the fully substituted message for one target.
// Substitution happens exactly once, here; delivery jobs send the result
// verbatim.
func (r *Request) Render(t Target) provider.OutboundMessage {
	msg := provider.OutboundMessage{
		Kind:      r.Payload.Kind,
		Recipient: t.RecipientID,
		Content:   substitute(t.Vars, r.Payload.Text),

		Title:       substitute(t.Vars, r.Payload.Title),
		Description: substitute(t.Vars, r.Payload.Description),
		URL:         substitute(t.Vars, r.Payload.URL),
		PicURL:      r.Payload.PicURL,

		MediaID: r.Payload.MediaID,

		PagePath: substitute(t.Vars, r.Payload.PagePath),
		AppRef:   r.Payload.AppRef,

		TemplateID: r.Payload.TemplateID,
	}
	if len(r.Payload.Data) > 0 {
		msg.TemplateData = make(map[string]provider.TemplateItem, len(r.Payload.Data))
		for key, item := range r.Payload.Data {
			msg.TemplateData[key] = provider.TemplateItem{
				Value: substitute(t.Vars, item.Value),
				Color: item.Color,
			}
		}
	}
	return msg
}

func substitute(vars map[string]string, s string) string {
	if s == "" || len(vars) == 0 {
		return s
	}
	for key, value := range vars {
		s = strings.ReplaceAll(s, "{"+key+"}", value)
	}
	return s
}
