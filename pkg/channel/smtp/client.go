// Package smtp relays envelopes through an SMTP submission server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"dispatchq/pkg/channel"

	"github.com/google/uuid"
)

const ProviderName = "smtp"

// Config describes the relay
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Helo     string
	Timeout  time.Duration
	DKIM     DKIMConfig

	// TLSConfig overrides the STARTTLS configuration, mainly for tests
	TLSConfig *tls.Config
}

// Client sends each envelope over a fresh SMTP session
type Client struct {
	addr     string
	host     string
	helo     string
	username string
	password string
	timeout  time.Duration
	tlsConf  *tls.Config
	signer   *Signer
	now      func() time.Time
}

// NewClient validates cfg and loads the DKIM key when configured
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	helo := cfg.Helo
	if helo == "" {
		helo = "localhost"
	}

	signer, err := NewSigner(cfg.DKIM)
	if err != nil {
		return nil, err
	}

	tlsConf := cfg.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	}

	return &Client{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		host:     cfg.Host,
		helo:     helo,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		tlsConf:  tlsConf,
		signer:   signer,
		now:      time.Now,
	}, nil
}

func (c *Client) Name() string { return ProviderName }

// Transmit delivers env. SMTP 5xx replies are permanent, except authentication
// failures; everything else is transient.
func (c *Client) Transmit(ctx context.Context, env *channel.Envelope) (*channel.Receipt, error) {
	messageID := uuid.NewString() + "@" + messageIDDomain(env.Sender, c.helo)

	data, err := buildMessage(env, messageID, c.now())
	if err != nil {
		return nil, channel.Permanent(ProviderName, err)
	}
	if data, err = c.signer.Sign(data, env.Sender); err != nil {
		return nil, channel.Permanent(ProviderName, err)
	}

	if err := c.deliver(ctx, env.Sender, env.Recipient, data); err != nil {
		return nil, classify(err)
	}

	return &channel.Receipt{ProviderMessageID: messageID, Provider: ProviderName}, nil
}

func (c *Client) deliver(ctx context.Context, from, to string, data []byte) error {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	defer client.Close()

	if err := client.Hello(c.helo); err != nil {
		return fmt.Errorf("helo: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(c.tlsConf); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if c.username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return &authError{err: errAuthNotOffered}
		}
		if err := client.Auth(smtp.PlainAuth("", c.username, c.password, c.host)); err != nil {
			return &authError{err: err}
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	// the message is accepted once DATA completes; a failed QUIT does not undo that
	_ = client.Quit()
	return nil
}

var errAuthNotOffered = errors.New("credentials configured but server does not offer AUTH")

// authError is a relay configuration fault. It says nothing about the
// message, so even a 5xx reply such as 535 stays retryable.
type authError struct {
	err error
}

func (e *authError) Error() string { return "auth: " + e.err.Error() }

func (e *authError) Unwrap() error { return e.err }

func classify(err error) error {
	var authErr *authError
	if errors.As(err, &authErr) {
		return channel.Transient(ProviderName, err)
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 && protoErr.Code < 600 {
		return channel.Permanent(ProviderName, err)
	}
	return channel.Transient(ProviderName, err)
}

func messageIDDomain(sender, fallback string) string {
	if d := domainOf(sender); d != "" {
		return d
	}
	return fallback
}
