package email

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"
)

// ErrHeaderInjection is returned when a header value carries a line break.
var ErrHeaderInjection = errors.New("header value contains line break")

// Attachment is a single file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is the envelope and body of an outgoing email.
type Message struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
	Date        time.Time
}

// Build renders m as multipart/mixed: a plain-text part followed by one
// base64 part per attachment.
func (m Message) Build() ([]byte, error) {
	if err := m.checkHeaders(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	var raw strings.Builder
	raw.WriteString("From: " + m.From + "\r\n")
	raw.WriteString("To: " + strings.Join(m.To, ", ") + "\r\n")
	raw.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	raw.WriteString("Date: " + m.Date.Format(time.RFC1123Z) + "\r\n")
	raw.WriteString("MIME-Version: 1.0\r\n")
	raw.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary()))

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	if _, err := text.Write([]byte(strings.ReplaceAll(m.Body, "\n", "\r\n"))); err != nil {
		return nil, fmt.Errorf("failed to write text part: %w", err)
	}

	for _, a := range m.Attachments {
		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {fmt.Sprintf("%s; name=%q", a.ContentType, a.Filename)},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", a.Filename)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write(wrapBase64(a.Content)); err != nil {
			return nil, fmt.Errorf("failed to write attachment %s: %w", a.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	raw.Write(body.Bytes())
	return []byte(raw.String()), nil
}

func (m Message) checkHeaders() error {
	fields := map[string][]string{
		"From":    {m.From},
		"To":      m.To,
		"Subject": {m.Subject},
	}
	for _, a := range m.Attachments {
		fields["Attachment"] = append(fields["Attachment"], a.Filename, a.ContentType)
	}
	for name, values := range fields {
		for _, v := range values {
			if strings.ContainsAny(v, "\r\n") {
				return fmt.Errorf("%w: %s", ErrHeaderInjection, name)
			}
		}
	}
	return nil
}

// wrapBase64 encodes content in 76-column lines.
func wrapBase64(content []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(content)
	var out bytes.Buffer
	for len(encoded) > 76 {
		out.WriteString(encoded[:76] + "\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded + "\r\n")
	return out.Bytes()
}
