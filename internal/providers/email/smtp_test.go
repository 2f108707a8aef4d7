package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSMTPSendBuildsMultipartMessage(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.test", Port: 2525, From: "billing@acme.test"})

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	p.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		gotMsg = string(msg)
		require.Nil(t, a)
		return nil
	}

	err := p.SendTemplate(context.Background(), []string{"ap@globex.test"}, "invoice_sent", map[string]any{
		"subject":        "Invoice INV-2025-0001",
		"customer_name":  "Globex",
		"org_name":       "Acme",
		"invoice_number": "INV-2025-0001",
		"total":          "USD 118.00",
		"due_date":       "2025-03-31",
		"support_email":  "billing@acme.test",
	}, Attachment{Filename: "INV-2025-0001.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.3")})
	require.NoError(t, err)

	require.Equal(t, "mail.test:2525", gotAddr)
	require.Equal(t, []string{"ap@globex.test"}, gotTo)
	require.Contains(t, gotMsg, "Subject: Invoice INV-2025-0001")
	require.Contains(t, gotMsg, "multipart/mixed")
	require.Contains(t, gotMsg, `filename=INV-2025-0001.pdf`)
	require.True(t, strings.Contains(gotMsg, "JVBERi0xLjM="))
}

func TestSMTPSendRequiresRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.test", Port: 25})
	require.ErrorIs(t, p.Send(context.Background(), Message{Subject: "x"}), ErrNoRecipients)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, _, err := Render("missing", nil)
	require.Error(t, err)
}

func TestNewFromConfigFallsBackToNoOp(t *testing.T) {
	p := NewFromConfig(config.Config{})
	_, ok := p.(*NoOpProvider)
	require.True(t, ok)
}
