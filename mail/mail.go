package mail

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/lagren/certwatch/notify"
	"github.com/lagren/certwatch/persistence"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Sender abstracts gomail.Dialer so the composed message can be tested
// without an SMTP server.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer delivers notifications over SMTP. Port 465 uses implicit TLS, any
// other port upgrades with STARTTLS.
type Mailer struct {
	from   string
	to     string
	sender Sender
}

func New(settings persistence.EmailSettings) (*Mailer, error) {
	if !settings.Configured() {
		return nil, fmt.Errorf("email settings require smtpServer, fromEmail and toEmail")
	}

	port := settings.SMTPPort
	if port == 0 {
		port = 587
	}

	d := gomail.NewDialer(settings.SMTPServer, port, settings.SMTPUser, settings.SMTPPassword)
	d.TLSConfig = &tls.Config{ServerName: settings.SMTPServer}

	return &Mailer{
		from:   settings.FromEmail,
		to:     settings.ToEmail,
		sender: d,
	}, nil
}

func (m *Mailer) compose(msg notify.Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", m.to)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	return gm
}

// Notify sends msg. gomail has no context support; ctx is only checked
// before dialing.
func (m *Mailer) Notify(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.sender.DialAndSend(m.compose(msg)); err != nil {
		return fmt.Errorf("could not send e-mail to %s: %w", m.to, err)
	}

	logrus.Infof("Email notification sent for %s", msg.Authority)

	return nil
}
