// Package mailer delivers outbound email.
package mailer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
)

// Config holds SMTP settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	SSL         bool
	FromName    string
	FromAddress string
}

var (
	_ delivery.Transport = (*SMTP)(nil)
	_ delivery.Transport = Log{}
)

// SMTP sends messages through an SMTP relay. Each Send opens its own
// connection.
type SMTP struct {
	client   *mail.Client
	fromName string
	fromAddr string
}

// NewSMTP builds an SMTP transport from cfg. Host and FromAddress are
// required. Without SSL the connection upgrades to STARTTLS when the server
// offers it, and PLAIN auth is used only when a username is configured.
// No connection is made until the first Send.
func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.FromAddress == "" {
		return nil, errors.New("smtp from address is required")
	}

	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create smtp client")
	}
	return &SMTP{
		client:   client,
		fromName: cfg.FromName,
		fromAddr: cfg.FromAddress,
	}, nil
}

// Send delivers msg over a fresh SMTP session bounded by ctx. A message that
// cannot be built, such as one with an invalid recipient address, fails
// permanently so the job is not retried; dial and send errors are retryable.
func (s *SMTP) Send(ctx context.Context, msg delivery.Message) error {
	m, err := s.build(msg)
	if err != nil {
		return delivery.Permanent(err)
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

func (s *SMTP) build(msg delivery.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(s.fromName, s.fromAddr); err != nil {
		return nil, errors.Wrap(err, "set sender")
	}
	if err := m.To(msg.To); err != nil {
		return nil, errors.Wrapf(err, "set recipient %q", msg.To)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	return m, nil
}

// Log writes messages to the context logger instead of sending them. Used in
// development when no SMTP host is configured.
type Log struct{}

// Send logs msg.
func (Log) Send(ctx context.Context, msg delivery.Message) error {
	zctx.From(ctx).Info("Email (not sent, no SMTP configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.HTMLBody)),
	)
	return nil
}
