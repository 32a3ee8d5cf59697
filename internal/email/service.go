package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/iliyamo/club-events/internal/config"
)

// Service sends transactional email through Resend.
type Service struct {
	config       config.EmailConfig
	resendClient *resend.Client
	templates    *template.Template
	logger       zerolog.Logger
}

// NewService creates a new email service instance.  A disabled service
// only logs what it would have sent.
func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		config:    cfg,
		templates: template.Must(template.New("email").Parse(registrationTemplates)),
		logger:    logger.With().Str("component", "email").Logger(),
	}
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY is required when email is enabled")
		}
		s.resendClient = resend.NewClient(cfg.ResendAPIKey)
	}
	return s, nil
}

// RegistrationData feeds the registration email templates.
type RegistrationData struct {
	EventName string
	TicketID  string
}

// SendRegistrationConfirmed emails the attendee their ticket.
func (s *Service) SendRegistrationConfirmed(ctx context.Context, to string, data RegistrationData) error {
	return s.sendTemplate(ctx, to, "You're registered for "+data.EventName, "confirmed", data)
}

// SendRegistrationCancelled confirms a cancellation.
func (s *Service) SendRegistrationCancelled(ctx context.Context, to string, data RegistrationData) error {
	return s.sendTemplate(ctx, to, "Registration cancelled: "+data.EventName, "cancelled", data)
}

func (s *Service) sendTemplate(ctx context.Context, to, subject, name string, data RegistrationData) error {
	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	if !s.config.Enabled {
		s.logger.Debug().Str("to", to).Str("template", name).Msg("email service disabled, skipping")
		return nil
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s template: %w", name, err)
	}
	return s.sendViaResend(ctx, to, subject, buf.String())
}

// validateEmailAddress validates an email address for format and header injection attempts
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

const registrationTemplates = `
{{define "confirmed"}}<html><body>
<p>You are registered for <strong>{{.EventName}}</strong>.</p>
<p>Your ticket: <code>{{.TicketID}}</code></p>
</body></html>{{end}}
{{define "cancelled"}}<html><body>
<p>Your registration for <strong>{{.EventName}}</strong> has been cancelled.</p>
<p>Ticket <code>{{.TicketID}}</code> is no longer valid.</p>
</body></html>{{end}}
`
