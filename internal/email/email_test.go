package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	args := m.Called(ctx, to, subject, rawMessage)
	return args.Error(0)
}

func TestMessageBuildCarriesAttachment(t *testing.T) {
	pdf := []byte("%PDF-1.3 fake document body")
	msg := Message{
		From:    "billing@example.com",
		To:      []string{"a@b.com"},
		Subject: "Invoice INV-1",
		Body:    "Hello\nYour invoice is attached.",
		Date:    time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		Attachments: []Attachment{
			{Filename: "INV-1.pdf", ContentType: "application/pdf", Content: pdf},
		},
	}

	raw, err := msg.Build()
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Invoice INV-1", decodeHeader(t, parsed.Header.Get("Subject")))
	assert.Equal(t, "a@b.com", parsed.Header.Get("To"))

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])

	text, err := reader.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Your invoice is attached.")

	attachment, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "INV-1.pdf", attachment.FileName())
	encoded, err := io.ReadAll(attachment)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.Equal(t, pdf, decoded)
}

func TestMessageBuildRejectsLineBreaksInHeaders(t *testing.T) {
	base := func() Message {
		return Message{
			From:    "billing@example.com",
			To:      []string{"a@b.com"},
			Subject: "Invoice INV-1",
			Attachments: []Attachment{
				{Filename: "INV-1.pdf", ContentType: "application/pdf", Content: []byte("x")},
			},
		}
	}
	tests := []struct {
		name   string
		modify func(*Message)
	}{
		{"from", func(m *Message) { m.From = "billing@example.com\r\nBcc: victim@example.com" }},
		{"to", func(m *Message) { m.To = []string{"a@b.com", "c@d.com\nBcc: victim@example.com"} }},
		{"subject", func(m *Message) { m.Subject = "Invoice\r\nBcc: victim@example.com" }},
		{"attachment name", func(m *Message) { m.Attachments[0].Filename = "INV-1.pdf\r\nX-Extra: 1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := base()
			tt.modify(&msg)
			raw, err := msg.Build()
			assert.ErrorIs(t, err, ErrHeaderInjection)
			assert.Nil(t, raw)
		})
	}
}

func decodeHeader(t *testing.T, value string) string {
	t.Helper()
	decoded, err := new(mime.WordDecoder).DecodeHeader(value)
	require.NoError(t, err)
	return decoded
}

func TestWrapBase64LineLength(t *testing.T) {
	out := wrapBase64(bytes.Repeat([]byte{0xff}, 200))
	for _, line := range strings.Split(strings.TrimSuffix(string(out), "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}
}

func TestCompositeEmailSenderCallsEverySender(t *testing.T) {
	first := new(MockEmailSender)
	second := new(MockEmailSender)
	to := []string{"a@b.com"}
	raw := []byte("raw")

	first.On("Send", mock.Anything, to, "subject", raw).Return(assert.AnError)
	second.On("Send", mock.Anything, to, "subject", raw).Return(nil)

	composite := NewCompositeEmailSender(first)
	composite.AddSender(second)
	composite.AddSender(nil)

	err := composite.Send(context.Background(), to, "subject", raw)
	assert.ErrorContains(t, err, assert.AnError.Error())
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestCompositeEmailSenderWithoutSenders(t *testing.T) {
	err := NewCompositeEmailSender().Send(context.Background(), nil, "", nil)
	assert.Error(t, err)
}

func TestFileEmailSenderAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail", "outbox.log")
	sender, err := NewFileEmailSender(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sender.Send(ctx, []string{"a@b.com"}, "first", []byte("one")))
	require.NoError(t, sender.Send(ctx, []string{"a@b.com"}, "second", []byte("two")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "--- End Logged Email ---"))
	assert.Contains(t, string(content), "Subject: second")
}

func TestNewFileEmailSenderRequiresPath(t *testing.T) {
	_, err := NewFileEmailSender(" ")
	assert.Error(t, err)
}
