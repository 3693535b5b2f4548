package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPNotifier delivers HTML mail over a plain SMTP endpoint.
type SMTPNotifier struct {
	addr     string // host:port
	from     string
	username string
	password string
}

func NewSMTPNotifier(addr, from, username, password string) *SMTPNotifier {
	return &SMTPNotifier{addr: addr, from: from, username: username, password: password}
}

// Send delivers one message. The context is honored only between retries at
// the caller; net/smtp itself does not take a context.
func (n *SMTPNotifier) Send(ctx context.Context, channel, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.from)
	fmt.Fprintf(&msg, "To: %s\r\n", channel)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if n.username != "" {
		host := n.addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.username, n.password, host)
	}
	if err := smtp.SendMail(n.addr, auth, n.from, []string{channel}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
