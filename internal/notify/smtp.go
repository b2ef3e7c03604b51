package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int // 587 (STARTTLS) when zero
	Username string
	Password string
	// From is the full sender, e.g. `"Plausch-noreply" <noreply@plausch.live>`.
	From    string
	Timeout time.Duration
}

// SMTPGateway sends mail through an SMTP relay with mandatory STARTTLS.
//
// Every Send dials a fresh connection. Registration mail is low volume and
// a new client per message keeps concurrent workers from sharing one
// connection's state.
type SMTPGateway struct {
	cfg SMTPConfig
}

func NewSMTPGateway(cfg SMTPConfig) (*SMTPGateway, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	// Parse the sender once so a bad From fails at startup, not on the
	// first registration.
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("notify: invalid sender %q: %w", cfg.From, err)
	}
	return &SMTPGateway{cfg: cfg}, nil
}

func (g *SMTPGateway) Send(ctx context.Context, msg Message) error {
	m, err := g.buildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(g.cfg.Host, g.clientOptions()...)
	if err != nil {
		return fmt.Errorf("notify: creating smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("notify: sending mail to %s: %w", msg.To, err)
	}
	return nil
}

func (g *SMTPGateway) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(g.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(g.cfg.Timeout),
	}
	if g.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(g.cfg.Username),
			mail.WithPassword(g.cfg.Password),
		)
	}
	return opts
}

func (g *SMTPGateway) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(g.cfg.From); err != nil {
		return nil, fmt.Errorf("notify: invalid sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("notify: invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}
