package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/messages"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateData is the view passed to notification templates.
type TemplateData struct {
	// Institute is the short name of the school.
	Institute   string
	RegistryURL string
	Items       []messages.Fragment
	// Item is the first of Items, for single-subject notifications.
	Item messages.Fragment
}

// Renderer produces the subject and HTML body of a notification.
type Renderer interface {
	Render(channel, notificationType string, data TemplateData) (subject, body string, err error)
}

// TemplateRenderer renders the embedded templates. Every channel has one template
// for circular digests and one shared by notices, tests and homework.
type TemplateRenderer struct {
	templates map[string]*template.Template
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	r := &TemplateRenderer{templates: make(map[string]*template.Template)}
	for _, channel := range []string{"email", "chat"} {
		for _, kind := range []string{"circolare", "avviso"} {
			name := channel + "_" + kind + ".html"
			t, err := template.ParseFS(templateFS, "templates/"+name)
			if err != nil {
				return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
			}
			r.templates[channel+"/"+kind] = t
		}
	}
	return r, nil
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(channel, notificationType string, data TemplateData) (string, string, error) {
	var kind string
	switch notificationType {
	case messages.TypeCircular:
		kind = "circolare"
	case messages.TypeNotice, messages.TypeTest, messages.TypeHomework:
		kind = "avviso"
	default:
		return "", "", fmt.Errorf("no template for notification type %q", notificationType)
	}
	if channel == models.ChannelTelegram {
		channel = "chat"
	}
	t, ok := r.templates[channel+"/"+kind]
	if !ok {
		return "", "", fmt.Errorf("no template for channel %q", channel)
	}

	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", data); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	if err := t.ExecuteTemplate(&body, "body", data); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return html.UnescapeString(strings.TrimSpace(subject.String())), strings.TrimSpace(body.String()), nil
}
