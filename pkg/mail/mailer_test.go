package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	quit    bool
	dataErr error
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error   { f.rcpts = append(f.rcpts, to); return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	if f.dataErr != nil {
		return nil, f.dataErr
	}
	return nopWriteCloser{&f.data}, nil
}
func (f *fakeSMTPClient) Quit() error                     { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                    { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error      { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error            { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

func newTestMailer(client *fakeSMTPClient) *smtpMailer {
	return &smtpMailer{
		cfg: SMTPSettings{
			Enabled: true,
			Host:    "mail.example.com",
			Port:    587,
			From:    "no-reply@example.com",
			Timeout: time.Second,
		},
		dialFn: func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
			server, _ := net.Pipe()
			return server, client, nil
		},
		authFn: func(smtpClient, SMTPSettings) error { return nil },
	}
}

func TestSendDisabled(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{To: []string{"a@b.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSendHTMLMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	m := newTestMailer(client)

	err := m.Send(context.Background(), Message{
		To:      []string{"user@example.com", "user@example.com"},
		Subject: "Reset your password",
		Body:    "<a href=\"https://orderdesk.example.com/reset?token=abc\">Reset</a>",
		HTML:    true,
	})
	require.NoError(t, err)

	require.Equal(t, "no-reply@example.com", client.from)
	require.Equal(t, []string{"user@example.com"}, client.rcpts, "recipients deduplicated")
	require.Contains(t, client.data.String(), "Content-Type: text/html")
	require.Contains(t, client.data.String(), "reset?token=abc")
	require.True(t, client.quit)
}

func TestSendRejectsInvalidRecipient(t *testing.T) {
	m := newTestMailer(&fakeSMTPClient{})
	err := m.Send(context.Background(), Message{To: []string{"not-an-address"}})
	require.Error(t, err)
}

func TestEnabledConfigRequiresHost(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true, Port: 25})
	require.Error(t, err)
}
