// Package mailer delivers finished reports over an authenticated SMTP session.
package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvreport/internal/config"
	"github.com/JonMunkholm/csvreport/internal/logging"
)

// ReportSubject is the subject line of every report email.
const ReportSubject = "📊 Relatório de Análise de Dados CSV"

// ErrNotConfigured is returned when the sender address or password is missing.
var ErrNotConfigured = errors.New(
	"Credenciais de email não configuradas. " +
		"Verifique o arquivo .env com EMAIL_REMETENTE e SENHA_REMETENTE",
)

const authFailedMessage = "Erro de autenticação. Verifique as credenciais de email"

// FailureKind groups delivery failures.
type FailureKind int

const (
	FailureTransport FailureKind = iota // network, TLS or message encoding
	FailureAuth                         // credentials rejected
	FailureProtocol                     // any other SMTP reply
	FailureRecipient                    // address rejected before dialing
)

// SendError is a failed delivery. Message is safe to show to the requester;
// Err keeps the underlying cause for logs.
type SendError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *SendError) Error() string {
	return e.Message
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether the server rejected the credentials.
func (e *SendError) IsAuthFailure() bool {
	return e.Kind == FailureAuth
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Mailer sends report emails through a single SMTP provider.
type Mailer struct {
	cfg    config.SMTPConfig
	sendFn sendFunc
	now    func() time.Time

	// tlsConfig overrides the STARTTLS client config when set.
	tlsConfig *tls.Config
}

// New returns a Mailer for cfg. Missing credentials are reported on send,
// not here.
func New(cfg config.SMTPConfig) *Mailer {
	m := &Mailer{
		cfg: cfg,
		now: time.Now,
	}
	m.sendFn = m.deliver
	return m
}

// Configured returns ErrNotConfigured unless both sender and password are set.
func (m *Mailer) Configured() error {
	if !m.cfg.HasCredentials() {
		return ErrNotConfigured
	}
	return nil
}

// SendReport mails report to a single recipient. Nothing is retried: the
// first failure is returned.
func (m *Mailer) SendReport(ctx context.Context, to, report string) error {
	logger := logging.WithFields(ctx, "to", to)

	if err := m.Configured(); err != nil {
		logger.Error("email not sent", "error", err)
		return err
	}

	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		sendErr := &SendError{
			Kind:    FailureRecipient,
			Message: fmt.Sprintf("Erro ao enviar email: destinatário inválido %q", to),
			Err:     err,
		}
		logger.Error("email not sent", "error", err)
		return sendErr
	}

	msg := Message{
		From:    m.cfg.Sender,
		To:      rcpt.Address,
		Subject: ReportSubject,
		Body:    reportBody(report),
		Date:    m.now(),
		ID:      messageID(m.cfg.Sender),
	}
	raw, err := msg.Bytes()
	if err != nil {
		return &SendError{Kind: FailureTransport, Message: fmt.Sprintf("Erro ao enviar email: %v", err), Err: err}
	}

	logger.Info("sending report email", "smtp", m.cfg.Addr())

	if err := m.sendFn(ctx, m.cfg.Sender, []string{rcpt.Address}, raw); err != nil {
		sendErr := classify(err)
		logger.Error("email delivery failed", "error", err, "detail", sendErr.Message)
		return sendErr
	}

	logger.Info("report email sent")
	return nil
}

// deliver runs one SMTP session: STARTTLS, AUTH PLAIN, MAIL, RCPT, DATA, QUIT.
func (m *Mailer) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.Addr(), err)
	}

	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("server %s does not offer STARTTLS", m.cfg.Host)
	}
	if err := c.StartTLS(m.clientTLS()); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.Sender, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}

	return c.Quit()
}

func (m *Mailer) clientTLS() *tls.Config {
	if m.tlsConfig == nil {
		return &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}
	}
	cfg := m.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = m.cfg.Host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// classify maps a transport error to the message shown to the requester.
func classify(err error) *SendError {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return &SendError{Kind: FailureAuth, Message: authFailedMessage, Err: err}
		}
		return &SendError{Kind: FailureProtocol, Message: fmt.Sprintf("Erro SMTP: %s", tpErr.Error()), Err: err}
	}
	return &SendError{Kind: FailureTransport, Message: fmt.Sprintf("Erro ao enviar email: %v", err), Err: err}
}

// messageID builds a unique Message-ID in the sender's domain.
func messageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(sender, '@'); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
