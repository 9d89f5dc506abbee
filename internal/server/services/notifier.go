package services

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"net/url"

	"github.com/dmitrijs2005/diacheck/internal/logging"
)

// Notifier delivers out-of-band messages to users.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// ResetLink builds the frontend URL carrying a password reset token.
func ResetLink(baseURL, token string) string {
	return baseURL + "/reset-password?token=" + url.QueryEscape(token)
}

var smtpSendMail = smtp.SendMail

// SMTPNotifier sends mail through an SMTP relay with PLAIN auth.
type SMTPNotifier struct {
	addr     string
	user     string
	password string
	from     string
}

func NewSMTPNotifier(addr, user, password, from string) *SMTPNotifier {
	if from == "" {
		from = user
	}
	return &SMTPNotifier{addr: addr, user: user, password: password, from: from}
}

func (n *SMTPNotifier) SendPasswordReset(_ context.Context, email, link string) error {
	host, _, err := net.SplitHostPort(n.addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", n.addr, err)
	}

	var auth smtp.Auth
	if n.user != "" {
		auth = smtp.PlainAuth("", n.user, n.password, host)
	}

	msg := []byte("From: " + n.from + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: Password reset\r\n\r\n" +
		"Use the link below to choose a new password. It expires in one hour.\r\n\r\n" +
		link + "\r\n")

	if err := smtpSendMail(n.addr, auth, n.from, []string{email}, msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", host, err)
	}
	return nil
}

// LogNotifier records that a message would have been sent. The link holds a
// live token, so only the recipient is logged.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notifier")}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, _ string) error {
	n.logger.Info(ctx, "password reset mail not sent, smtp is not configured", "email", email)
	return nil
}
