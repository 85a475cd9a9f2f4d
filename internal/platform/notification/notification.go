// Package notification renders templated messages and hands them to a
// delivery sink. Reminders produced by the sweeper flow through here.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the medium a notification is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelLog   Channel = "log"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// TemplateAppointmentReminder is rendered for every booked appointment that
// starts inside the reminder window.
const TemplateAppointmentReminder = "appointment-reminder"

type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Dispatcher renders a template for a recipient and delivers it.
type Dispatcher interface {
	Dispatch(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error)
}

type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.RegisterTemplate(Template{
		ID:      TemplateAppointmentReminder,
		Name:    "Appointment Reminder",
		Subject: "Appointment Reminder for {{patient_name}}",
		Body:    "Dear {{patient_name}}, this is a reminder of your appointment on {{date}} at {{time}} with {{provider}}.",
		Channel: ChannelLog,
	})
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", templateID)
	}

	out := *t
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		out.Subject = strings.ReplaceAll(out.Subject, placeholder, v)
		out.Body = strings.ReplaceAll(out.Body, placeholder, v)
	}
	return out, nil
}

// LogSender writes notifications to the structured log instead of an
// external gateway.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) Send(_ context.Context, n *Notification) error {
	s.logger.Info().
		Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("recipient", n.Recipient).
		Str("template", n.TemplateID).
		Str("subject", n.Subject).
		Msg(n.Body)
	return nil
}

// Manager is the default Dispatcher. It keeps per-status counters for the
// notifications it has handled.
type Manager struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	stats map[string]int
}

func NewManager(sender Sender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	return &Manager{
		sender:    sender,
		templates: tpl,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		stats:     make(map[string]int),
	}
}

func (m *Manager) Dispatch(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	tpl, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		ID:           uuid.New().String(),
		Channel:      tpl.Channel,
		Recipient:    recipient,
		Subject:      tpl.Subject,
		Body:         tpl.Body,
		TemplateID:   templateID,
		TemplateData: data,
		CreatedAt:    m.now(),
	}

	if err := m.sender.Send(ctx, n); err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		m.logger.Warn().Err(err).Str("template", templateID).Str("recipient", recipient).Msg("notification delivery failed")
	} else {
		n.Status = StatusSent
		sentAt := m.now()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.stats[n.Status]++
	m.mu.Unlock()

	if n.Status == StatusFailed {
		return n, fmt.Errorf("send notification: %s", n.Error)
	}
	return n, nil
}

// Stats returns counts of dispatched notifications grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}
