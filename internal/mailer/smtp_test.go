package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvreport/internal/config"
)

func testConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Sender:   "relatorios@example.com",
		Password: "secret",
		Timeout:  2 * time.Second,
	}
}

type capture struct {
	calls int
	from  string
	to    []string
	msg   []byte
	err   error
}

func (c *capture) send(_ context.Context, from string, to []string, msg []byte) error {
	c.calls++
	c.from = from
	c.to = to
	c.msg = msg
	return c.err
}

func newCaptured(cfg config.SMTPConfig) (*Mailer, *capture) {
	m := New(cfg)
	c := &capture{}
	m.sendFn = c.send
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m, c
}

func TestSendReport_NotConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	m, c := newCaptured(cfg)

	err := m.SendReport(context.Background(), "dest@example.com", "relatório")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 0, c.calls)
	assert.Contains(t, err.Error(), "EMAIL_REMETENTE e SENHA_REMETENTE")
}

func TestSendReport_InvalidRecipient(t *testing.T) {
	m, c := newCaptured(testConfig())

	err := m.SendReport(context.Background(), "not-an-address", "x")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, FailureRecipient, sendErr.Kind)
	assert.Equal(t, 0, c.calls)
}

func TestSendReport_Message(t *testing.T) {
	m, c := newCaptured(testConfig())

	report := "RELATÓRIO DE ANÁLISE DE DADOS\n   • Total de registros: 3"
	require.NoError(t, m.SendReport(context.Background(), "Dest <dest@example.com>", report))

	require.Equal(t, 1, c.calls)
	assert.Equal(t, "relatorios@example.com", c.from)
	assert.Equal(t, []string{"dest@example.com"}, c.to)

	msg, err := mail.ReadMessage(bytes.NewReader(c.msg))
	require.NoError(t, err)

	assert.Equal(t, "relatorios@example.com", msg.Header.Get("From"))
	assert.Equal(t, "dest@example.com", msg.Header.Get("To"))
	assert.Equal(t, "1.0", msg.Header.Get("MIME-Version"))
	assert.Equal(t, "Fri, 01 Mar 2024 12:00:00 +0000", msg.Header.Get("Date"))
	assert.True(t, strings.HasSuffix(msg.Header.Get("Message-ID"), "@example.com>"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, ReportSubject, subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", part.Header.Get("Content-Type"))

	// multipart.Reader decodes quoted-printable transparently.
	body, err := io.ReadAll(part)
	require.NoError(t, err)
	text := strings.ReplaceAll(string(body), "\r\n", "\n")

	assert.True(t, strings.HasPrefix(text, "Olá!\n\nSegue abaixo o relatório"))
	assert.Contains(t, text, report)
	assert.Contains(t, text, "---\nEste email foi enviado automaticamente pela API de Processamento CSV.")

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSendReport_TransportErrorIsClassified(t *testing.T) {
	m, c := newCaptured(testConfig())
	c.err = &textproto.Error{Code: 535, Msg: "5.7.8 Username and Password not accepted"}

	err := m.SendReport(context.Background(), "dest@example.com", "x")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, sendErr.IsAuthFailure())
	assert.Equal(t, "Erro de autenticação. Verifique as credenciais de email", err.Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind FailureKind
		want string
	}{
		{"auth 535", &textproto.Error{Code: 535, Msg: "bad"}, FailureAuth, "Erro de autenticação. Verifique as credenciais de email"},
		{"auth 534 wrapped", wrap(&textproto.Error{Code: 534, Msg: "app password"}), FailureAuth, "Erro de autenticação. Verifique as credenciais de email"},
		{"auth 530", &textproto.Error{Code: 530, Msg: "must auth"}, FailureAuth, "Erro de autenticação. Verifique as credenciais de email"},
		{"other smtp", &textproto.Error{Code: 550, Msg: "mailbox unavailable"}, FailureProtocol, "Erro SMTP: 550 mailbox unavailable"},
		{"network", errors.New("connection refused"), FailureTransport, "Erro ao enviar email: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.want, got.Message)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.kind == FailureAuth, got.IsAuthFailure())
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestSendError_AuthFailureIgnoresMessage(t *testing.T) {
	assert.True(t, (&SendError{Kind: FailureAuth, Message: "credenciais recusadas"}).IsAuthFailure())
	assert.False(t, (&SendError{Kind: FailureProtocol, Message: authFailedMessage}).IsAuthFailure())
}

func wrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "auth: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestMessageID(t *testing.T) {
	a := messageID("x@dominio.com.br")
	b := messageID("x@dominio.com.br")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "@dominio.com.br>"))
	assert.True(t, strings.HasSuffix(messageID("semdominio"), "@localhost>"))
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestDeliver_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)

	err = m.SendReport(context.Background(), "dest@example.com", "x")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, strings.HasPrefix(sendErr.Message, "Erro ao enviar email: "))
	assert.False(t, sendErr.IsAuthFailure())
}

// smtpSession is what a fake server received during one session.
type smtpSession struct {
	auth string
	from string
	rcpt []string
	data string
}

type fakeOptions struct {
	extensions []string
	tls        *tls.Config // offers STARTTLS, then AUTH PLAIN, when set
	rejectAuth bool
}

// fakeSMTP accepts one session and advertises only the given extensions.
func fakeSMTP(t *testing.T, extensions ...string) string {
	t.Helper()
	addr, _ := startFakeSMTP(t, fakeOptions{extensions: extensions})
	return addr
}

// startFakeSMTP serves one session and reports what it received once the
// session ends.
func startFakeSMTP(t *testing.T, opts fakeOptions) (string, <-chan smtpSession) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan smtpSession, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		var sess smtpSession
		defer func() {
			conn.Close()
			done <- sess
		}()

		secure := false
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ESMTP test")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb, arg, _ := strings.Cut(line, " ")
			switch strings.ToUpper(verb) {
			case "EHLO":
				tp.PrintfLine("250-localhost")
				for _, ext := range opts.extensions {
					tp.PrintfLine("250-%s", ext)
				}
				if opts.tls != nil && !secure {
					tp.PrintfLine("250-STARTTLS")
				}
				if secure {
					tp.PrintfLine("250-AUTH PLAIN")
				}
				tp.PrintfLine("250 HELP")
			case "STARTTLS":
				if opts.tls == nil || secure {
					tp.PrintfLine("502 not implemented")
					continue
				}
				tp.PrintfLine("220 ready to start TLS")
				tlsConn := tls.Server(conn, opts.tls)
				if err := tlsConn.Handshake(); err != nil {
					return
				}
				conn = tlsConn
				tp = textproto.NewConn(conn)
				secure = true
			case "AUTH":
				mech, resp, _ := strings.Cut(arg, " ")
				decoded, _ := base64.StdEncoding.DecodeString(resp)
				sess.auth = mech + " " + string(decoded)
				if opts.rejectAuth {
					tp.PrintfLine("535 5.7.8 Username and Password not accepted")
					continue
				}
				tp.PrintfLine("235 2.7.0 Accepted")
			case "MAIL":
				sess.from = arg
				tp.PrintfLine("250 2.1.0 OK")
			case "RCPT":
				sess.rcpt = append(sess.rcpt, arg)
				tp.PrintfLine("250 2.1.5 OK")
			case "DATA":
				tp.PrintfLine("354 go ahead")
				data, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				sess.data = string(data)
				tp.PrintfLine("250 2.0.0 queued")
			case "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				tp.PrintfLine("502 not implemented")
			}
		}
	}()

	return ln.Addr().String(), done
}

// tlsPair returns a server config holding the httptest certificate and a
// client config that trusts it. The certificate is valid for 127.0.0.1.
func tlsPair(t *testing.T) (server, client *tls.Config) {
	t.Helper()
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())

	return &tls.Config{Certificates: srv.TLS.Certificates}, &tls.Config{RootCAs: roots}
}

func waitSession(t *testing.T, done <-chan smtpSession) smtpSession {
	t.Helper()
	select {
	case sess := <-done:
		return sess
	case <-time.After(2 * time.Second):
		t.Fatal("smtp session did not end")
		return smtpSession{}
	}
}

func TestDeliver_Session(t *testing.T) {
	serverTLS, clientTLS := tlsPair(t)
	addr, done := startFakeSMTP(t, fakeOptions{tls: serverTLS})

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)
	m.tlsConfig = clientTLS
	m.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, m.SendReport(context.Background(), "dest@example.com", "Total de registros: 3"))

	sess := waitSession(t, done)
	assert.Equal(t, "PLAIN \x00relatorios@example.com\x00secret", sess.auth)
	assert.Equal(t, "FROM:<relatorios@example.com>", sess.from)
	assert.Equal(t, []string{"TO:<dest@example.com>"}, sess.rcpt)

	msg, err := mail.ReadMessage(strings.NewReader(sess.data))
	require.NoError(t, err)
	assert.Equal(t, "relatorios@example.com", msg.Header.Get("From"))
	assert.Equal(t, "dest@example.com", msg.Header.Get("To"))
	assert.Equal(t, "Fri, 01 Mar 2024 12:00:00 +0000", msg.Header.Get("Date"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, ReportSubject, subject)
	assert.Contains(t, sess.data, "Total de registros: 3")
}

func TestDeliver_AuthRejected(t *testing.T) {
	serverTLS, clientTLS := tlsPair(t)
	addr, done := startFakeSMTP(t, fakeOptions{tls: serverTLS, rejectAuth: true})

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)
	m.tlsConfig = clientTLS

	err := m.SendReport(context.Background(), "dest@example.com", "x")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, FailureAuth, sendErr.Kind)
	assert.True(t, sendErr.IsAuthFailure())
	assert.Equal(t, "Erro de autenticação. Verifique as credenciais de email", sendErr.Message)

	var tpErr *textproto.Error
	require.True(t, errors.As(err, &tpErr))
	assert.Equal(t, 535, tpErr.Code)

	sess := waitSession(t, done)
	assert.Equal(t, "PLAIN \x00relatorios@example.com\x00secret", sess.auth)
	assert.Empty(t, sess.from)
	assert.Empty(t, sess.data)
}

func TestDeliver_UntrustedCertificate(t *testing.T) {
	serverTLS, _ := tlsPair(t)
	addr, done := startFakeSMTP(t, fakeOptions{tls: serverTLS})

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)

	err := m.SendReport(context.Background(), "dest@example.com", "x")

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, FailureTransport, sendErr.Kind)
	assert.True(t, strings.HasPrefix(sendErr.Message, "Erro ao enviar email: starttls: "))

	sess := waitSession(t, done)
	assert.Empty(t, sess.auth)
}

func TestDeliver_RequiresStartTLS(t *testing.T) {
	addr := fakeSMTP(t, "8BITMIME")

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)

	err := m.SendReport(context.Background(), "dest@example.com", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STARTTLS")
	assert.True(t, strings.HasPrefix(err.Error(), "Erro ao enviar email: "))
}

func TestDeliver_ContextCanceled(t *testing.T) {
	addr := fakeSMTP(t)

	cfg := testConfig()
	cfg.Host, cfg.Port = hostPort(t, addr)
	m := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.SendReport(ctx, "dest@example.com", "x")
	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr))
	assert.True(t, strings.HasPrefix(sendErr.Message, "Erro ao enviar email: dial "))
}
