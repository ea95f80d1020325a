package smtp

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"dispatchq/pkg/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal SMTP server without STARTTLS. It rejects recipients starting with "reject"
// and answers 451 to recipients starting with "busy". AUTH is offered only when authReply is set.
type fakeRelay struct {
	ln        net.Listener
	authReply string

	mu       sync.Mutex
	messages []string
}

func startFakeRelay(t *testing.T, opts ...func(*fakeRelay)) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRelay{ln: ln}
	for _, opt := range opts {
		opt(r)
	}
	go r.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return r
}

func (r *fakeRelay) port() int {
	return r.ln.Addr().(*net.TCPAddr).Port
}

func (r *fakeRelay) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *fakeRelay) serve() {
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		go r.handle(conn)
	}
}

func (r *fakeRelay) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 fake.relay ESMTP")
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250-fake.relay")
			if r.authReply != "" {
				reply("250-AUTH PLAIN")
			}
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "AUTH"):
			reply(r.authReply)
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:<REJECT"):
			reply("550 5.1.1 mailbox unavailable")
		case strings.HasPrefix(cmd, "RCPT TO:<BUSY"):
			reply("451 4.3.0 try again later")
		case strings.HasPrefix(cmd, "RCPT TO"):
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			r.mu.Lock()
			r.messages = append(r.messages, body.String())
			r.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func newRelayClient(t *testing.T, relay *fakeRelay, dkim DKIMConfig) *Client {
	t.Helper()
	return newRelayClientWithConfig(t, Config{
		Host:    "127.0.0.1",
		Port:    relay.port(),
		Helo:    "dispatchq.test",
		Timeout: 5 * time.Second,
		DKIM:    dkim,
	})
}

func newRelayClientWithConfig(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func authConfig(relay *fakeRelay) Config {
	return Config{
		Host:     "127.0.0.1",
		Port:     relay.port(),
		Helo:     "dispatchq.test",
		Timeout:  5 * time.Second,
		Username: "dispatch",
		Password: "secret",
	}
}

func envelopeTo(recipient string) *channel.Envelope {
	return &channel.Envelope{
		MessageID:   "m-1",
		Recipient:   recipient,
		Sender:      "no-reply@example.com",
		Subject:     "Welcome aboard",
		TextBody:    "Hello there",
		HTMLBody:    "<p>Hello there</p>",
		MessageType: "welcome",
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestTransmit_Delivers(t *testing.T) {
	relay := startFakeRelay(t)
	client := newRelayClient(t, relay, DKIMConfig{})

	receipt, err := client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ProviderName, receipt.Provider)
	assert.True(t, strings.HasSuffix(receipt.ProviderMessageID, "@example.com"))

	msgs := relay.received()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "To: alice@example.com")
	assert.Contains(t, msgs[0], "multipart/alternative")
	assert.Contains(t, msgs[0], "Message-ID: <"+receipt.ProviderMessageID+">")
}

func TestTransmit_RejectedRecipientIsPermanent(t *testing.T) {
	relay := startFakeRelay(t)
	client := newRelayClient(t, relay, DKIMConfig{})

	_, err := client.Transmit(context.Background(), envelopeTo("reject@example.com"))
	require.Error(t, err)
	assert.True(t, channel.IsPermanent(err))
	assert.Empty(t, relay.received())
}

func TestTransmit_TemporaryReplyIsTransient(t *testing.T) {
	relay := startFakeRelay(t)
	client := newRelayClient(t, relay, DKIMConfig{})

	_, err := client.Transmit(context.Background(), envelopeTo("busy@example.com"))
	require.Error(t, err)
	assert.True(t, channel.IsTransient(err))
}

func TestTransmit_Authenticates(t *testing.T) {
	relay := startFakeRelay(t, func(r *fakeRelay) { r.authReply = "235 2.7.0 accepted" })
	client := newRelayClientWithConfig(t, authConfig(relay))

	_, err := client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.NoError(t, err)
	assert.Len(t, relay.received(), 1)
}

func TestTransmit_AuthNotOfferedIsTransient(t *testing.T) {
	relay := startFakeRelay(t)
	client := newRelayClientWithConfig(t, authConfig(relay))

	_, err := client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.Error(t, err)
	assert.True(t, channel.IsTransient(err))
	assert.ErrorIs(t, err, errAuthNotOffered)
	assert.Empty(t, relay.received())
}

func TestTransmit_RejectedCredentialsAreTransient(t *testing.T) {
	relay := startFakeRelay(t, func(r *fakeRelay) { r.authReply = "535 5.7.8 authentication credentials invalid" })
	client := newRelayClientWithConfig(t, authConfig(relay))

	_, err := client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.Error(t, err)
	assert.True(t, channel.IsTransient(err))
	assert.False(t, channel.IsPermanent(err))
	assert.Contains(t, err.Error(), "535")
	assert.Empty(t, relay.received())
}

func TestTransmit_ConnectionRefusedIsTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	client, err := NewClient(Config{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.NoError(t, err)

	_, err = client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.Error(t, err)
	assert.True(t, channel.IsTransient(err))
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}

func TestTransmit_DKIMSigned(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	relay := startFakeRelay(t)
	client := newRelayClient(t, relay, DKIMConfig{Selector: "mail", KeyPEM: pemData})

	_, err = client.Transmit(context.Background(), envelopeTo("alice@example.com"))
	require.NoError(t, err)

	msgs := relay.received()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "DKIM-Signature:"))
	assert.Contains(t, msgs[0], "d=example.com")
	assert.Contains(t, msgs[0], "s=mail")
}
