package quality

import (
	"context"
	"net"
	"net/smtp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scripe/leadgen/internal/extract"
)

// SMTPProber verifies a mailbox by speaking just enough SMTP to the domain's
// best mail exchanger: HELO, MAIL FROM, RCPT TO, QUIT. A rejected RCPT means
// the mailbox does not exist; anything network-shaped is an error so the
// caller records the check as unvalidated.
type SMTPProber struct {
	HelloDomain string
	From        string
	Timeout     time.Duration

	resolver MXResolver
}

// NewSMTPProber creates a prober identifying itself as helloDomain.
func NewSMTPProber(helloDomain, from string) *SMTPProber {
	return &SMTPProber{
		HelloDomain: helloDomain,
		From:        from,
		Timeout:     10 * time.Second,
		resolver:    net.DefaultResolver,
	}
}

// ProbeMailbox implements MailboxProber.
func (p *SMTPProber) ProbeMailbox(ctx context.Context, email string) (bool, error) {
	domain := extract.EmailDomain(email)
	if domain == "" {
		return false, nil
	}

	records, err := p.resolver.LookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return false, eris.Wrap(err, "quality: mx lookup for mailbox probe")
	}

	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(records[0].Host, "25"))
	if err != nil {
		return false, eris.Wrap(err, "quality: dial mail exchanger")
	}
	defer conn.Close() //nolint:errcheck
	_ = conn.SetDeadline(time.Now().Add(p.Timeout))

	client, err := smtp.NewClient(conn, records[0].Host)
	if err != nil {
		return false, eris.Wrap(err, "quality: smtp handshake")
	}
	defer client.Quit() //nolint:errcheck

	if err := client.Hello(p.HelloDomain); err != nil {
		return false, eris.Wrap(err, "quality: smtp hello")
	}
	if err := client.Mail(p.From); err != nil {
		return false, eris.Wrap(err, "quality: smtp mail from")
	}
	if err := client.Rcpt(email); err != nil {
		// The server answered; the mailbox is confirmed absent.
		return false, nil
	}
	return true, nil
}
