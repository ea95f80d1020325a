package smtp

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"time"

	"dispatchq/pkg/channel"
)

// buildMessage renders env as an RFC 5322 message with CRLF line endings.
// Both bodies present produce multipart/alternative; otherwise a single part is sent.
func buildMessage(env *channel.Envelope, messageID string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	writeHeader("From", env.Sender)
	writeHeader("To", env.Recipient)
	if env.ReplyTo != "" {
		writeHeader("Reply-To", env.ReplyTo)
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	writeHeader("Date", date.Format(time.RFC1123Z))
	writeHeader("Message-ID", "<"+messageID+">")
	writeHeader("MIME-Version", "1.0")
	if env.MessageType != "" {
		writeHeader("X-Message-Type", env.MessageType)
	}

	switch {
	case env.HTMLBody != "" && env.TextBody != "":
		mw := multipart.NewWriter(&buf)
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
		buf.WriteString("\r\n")

		if err := writePart(mw, "text/plain; charset=utf-8", env.TextBody); err != nil {
			return nil, err
		}
		if err := writePart(mw, "text/html; charset=utf-8", env.HTMLBody); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close multipart writer: %w", err)
		}
	case env.HTMLBody != "":
		if err := writeSinglePart(&buf, "text/html; charset=utf-8", env.HTMLBody); err != nil {
			return nil, err
		}
	default:
		if err := writeSinglePart(&buf, "text/plain; charset=utf-8", env.TextBody); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write part: %w", err)
	}
	return qp.Close()
}

func writeSinglePart(buf *bytes.Buffer, contentType, body string) error {
	fmt.Fprintf(buf, "Content-Type: %s\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n", contentType)
	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	buf.WriteString("\r\n")
	return nil
}
