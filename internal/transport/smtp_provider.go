package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig is the connection profile for one outbound relay, adapted
// from oarkflow-email's EmailConfig's SMTP-relevant fields.
type SMTPConfig struct {
	Host          string
	Port          int
	UseTLS        bool
	SkipTLSVerify bool
	AuthType      string // "", "plain", "login", "cram-md5", "none"
	Username      string
	Password      string
	Timeout       time.Duration
}

// SMTPProvider sends via a single SMTP relay, ported from
// oarkflow-email's dialPlainClient/dialTLSClient/buildSMTPAuth/
// loginAuth and message.go's buildMessage, generalized to the
// Recipient/Transport contract instead of the teacher's EmailConfig bag.
type SMTPProvider struct {
	cfg SMTPConfig
}

// NewSMTPProvider builds a Provider that relays through cfg.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPProvider{cfg: cfg}
}

func (s *SMTPProvider) Name() string { return "smtp" }

func (s *SMTPProvider) Send(ctx context.Context, r Recipient) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	client, err := s.dial(addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer client.Close()

	auth, err := s.buildAuth()
	if err != nil {
		return "", err
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}

	from := r.UserEmail
	if err := client.Mail(from); err != nil {
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(r.To); err != nil {
		return "", fmt.Errorf("RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA: %w", err)
	}

	msgID := uuid.NewString()
	msg := buildMessage(from, r.To, r.Subject, r.HTML, msgID)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return "", fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close body: %w", err)
	}

	_ = client.Quit()
	return msgID, nil
}

func (s *SMTPProvider) dial(addr string) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	if !s.cfg.UseTLS {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		client, err := smtp.NewClient(conn, s.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return client, nil
	}

	tlsCfg := &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.SkipTLSVerify}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

func (s *SMTPProvider) buildAuth() (smtp.Auth, error) {
	switch strings.ToLower(strings.TrimSpace(s.cfg.AuthType)) {
	case "", "plain":
		return smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host), nil
	case "login":
		return &loginAuth{username: s.cfg.Username, password: s.cfg.Password, host: s.cfg.Host}, nil
	case "cram-md5", "crammd5":
		return smtp.CRAMMD5Auth(s.cfg.Username, s.cfg.Password), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported smtp auth %q", s.cfg.AuthType)
	}
}

// loginAuth implements the LOGIN SMTP challenge/response mechanism,
// ported verbatim in behavior from oarkflow-email/auth.go since
// net/smtp has no built-in LOGIN auth.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(string(fromServer)) {
	case "username:", "user:":
		return []byte(a.username), nil
	case "password:", "pass:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected login challenge: %s", string(fromServer))
	}
}

func buildMessage(from, to, subject, html, messageID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@followupd>\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	b.WriteString("\r\n")
	return b.String()
}
