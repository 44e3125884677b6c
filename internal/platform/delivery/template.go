package delivery

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a channel specific rendering of a message.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders. Keys absent from the data are
// left as-is.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      ChannelEmail,
			Subject: "[{{priority}}] {{title}}",
			Body:    "Dear {{name}},\n\n{{message}}\n\n{{action}}\n",
		},
		{ID: ChannelSMS, Body: "{{message}}"},
		{ID: ChannelPush, Subject: "{{title}}", Body: "{{message}}"},
		{
			ID:   ChannelPhoneCall,
			Body: "This is an urgent message from your care team. {{title}}. {{message}}. {{action}}.",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// RenderMessage renders msg with the template registered for its channel.
func (e *TemplateEngine) RenderMessage(msg Message) (subject, body string, err error) {
	name := msg.Contact.FullName
	if name == "" {
		name = "patient"
	}
	return e.Render(msg.Channel, map[string]string{
		"name":     name,
		"title":    msg.Title,
		"message":  msg.Body,
		"action":   msg.ActionText,
		"priority": strings.ToUpper(msg.Priority),
	})
}
