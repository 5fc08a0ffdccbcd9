package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"

	"gopkg.in/gomail.v2"
)

type SMTPSender struct {
	*gomail.Dialer
	From string
}

// Send delivers the message over SMTP. The dial and transfer run under the
// caller's deadline; on expiry the send is abandoned and ctx.Err() returned.
func (s *SMTPSender) Send(ctx context.Context, message *Message) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.From)
	msg.SetHeader("To", message.To...)
	msg.SetHeader("Cc", message.Cc...)
	msg.SetHeader("Subject", message.Subject)
	if message.Category != "" {
		msg.SetHeader("X-Category", message.Category)
	}
	if message.IsHTML {
		msg.SetBody("text/html", message.Body)
	} else {
		msg.SetBody("text/plain", message.Body)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- s.DialAndSend(msg)
	}()
	select {
	case err := <-sendErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	CertFile string
	KeyFile  string
	CAFile   string
}

func dialSMTP(smtpCfg SMTPConfig) (*gomail.Dialer, error) {
	dialer := gomail.NewDialer(smtpCfg.Host, smtpCfg.Port, smtpCfg.Username, smtpCfg.Password)
	dialer.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	if smtpCfg.TLS {
		cert, err := tls.LoadX509KeyPair(smtpCfg.CertFile, smtpCfg.KeyFile)
		if err != nil {
			return nil, err
		}

		caPool := x509.NewCertPool()
		if smtpCfg.CAFile != "" {
			caCert, err := os.ReadFile(smtpCfg.CAFile)
			if err != nil {
				return nil, err
			}
			caPool.AppendCertsFromPEM(caCert)
		}

		dialer.TLSConfig = &tls.Config{
			ServerName:         smtpCfg.Host,
			InsecureSkipVerify: true,
			Certificates:       []tls.Certificate{cert},
			RootCAs:            caPool,
		}
	}
	return dialer, nil
}

func NewSMTPSender(smtpConfig SMTPConfig, from string) (*SMTPSender, error) {
	dialer, err := dialSMTP(smtpConfig)
	if err != nil {
		return nil, err
	}
	return &SMTPSender{
		Dialer: dialer,
		From:   from,
	}, nil
}
