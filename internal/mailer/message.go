package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"
)

// Message is a single plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Date    time.Time
	ID      string
}

// Bytes renders the message as MIME 1.0: a multipart/mixed envelope holding
// one quoted-printable text/plain part.
func (m Message) Bytes() ([]byte, error) {
	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textHeader.Set("Content-Transfer-Encoding", "quoted-printable")

	part, err := mw.CreatePart(textHeader)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(m.Body)); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", m.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", m.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", m.Date.Format(time.RFC1123Z)))
	if m.ID != "" {
		buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", m.ID))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary()))
	buf.WriteString("\r\n")
	buf.Write(parts.Bytes())

	return buf.Bytes(), nil
}

// reportBody wraps the report text with the greeting and the automatic-send footer.
func reportBody(report string) string {
	var b strings.Builder
	b.WriteString("Olá!\n\n")
	b.WriteString("Segue abaixo o relatório de análise dos dados do arquivo CSV processado.\n\n")
	b.WriteString(report)
	b.WriteString("\n\n---\n")
	b.WriteString("Este email foi enviado automaticamente pela API de Processamento CSV.\n")
	return b.String()
}
