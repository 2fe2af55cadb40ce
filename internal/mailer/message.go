package mailer

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Header 附加邮件头
type Header struct {
	Name  string
	Value string
}

// Message 待发送的纯文本或HTML邮件
type Message struct {
	From     *mail.Address
	ReplyTo  *mail.Address
	To       []*mail.Address
	Subject  string
	TextBody string
	HTMLBody string
	Headers  []Header
}

// Recipients 收件人地址
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, addr := range m.To {
		out = append(out, addr.Address)
	}
	return out
}

// Build 生成RFC 5322格式的邮件数据
func (m *Message) Build() ([]byte, error) {
	if m.From == nil || m.From.Address == "" {
		return nil, fmt.Errorf("message has no sender")
	}
	if len(m.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{m.From})
	h.SetAddressList("To", m.To)
	if m.ReplyTo != nil {
		h.SetAddressList("Reply-To", []*mail.Address{m.ReplyTo})
	}
	h.SetSubject(m.Subject)
	for _, header := range m.Headers {
		h.Set(header.Name, header.Value)
	}

	var buf bytes.Buffer

	// 只有一种正文时不需要multipart
	if m.HTMLBody == "" || m.TextBody == "" {
		contentType, body := "text/plain", m.TextBody
		if m.HTMLBody != "" {
			contentType, body = "text/html", m.HTMLBody
		}
		h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			return nil, fmt.Errorf("failed to write message body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if err := writePart(w, "text/plain", m.TextBody); err != nil {
		return nil, err
	}
	if err := writePart(w, "text/html", m.HTMLBody); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	part, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(part, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return part.Close()
}
