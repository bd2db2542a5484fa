package mailer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
)

func TestNewSMTP_Validates(t *testing.T) {
	_, err := NewSMTP(Config{FromAddress: "shop@example.com"})
	require.Error(t, err)

	_, err = NewSMTP(Config{Host: "smtp.example.com"})
	require.Error(t, err)

	s, err := NewSMTP(Config{Host: "smtp.example.com", Port: 587, FromName: "Ghostmarket", FromAddress: "shop@example.com"})
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestSMTP_Build(t *testing.T) {
	s, err := NewSMTP(Config{Host: "smtp.example.com", Port: 587, FromName: "Ghostmarket", FromAddress: "shop@example.com"})
	require.NoError(t, err)

	m, err := s.build(delivery.Message{To: "buyer@example.com", Subject: "Hello", HTMLBody: "<p>hi</p>"})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: Hello")
	assert.Contains(t, raw, "buyer@example.com")
	assert.Contains(t, raw, "Ghostmarket")
	assert.Contains(t, raw, "shop@example.com")
	assert.Contains(t, raw, "text/html")
}

func TestSMTP_BadRecipientIsPermanent(t *testing.T) {
	s, err := NewSMTP(Config{Host: "smtp.example.com", Port: 587, FromAddress: "shop@example.com"})
	require.NoError(t, err)

	err = s.Send(context.Background(), delivery.Message{To: "not an address", Subject: "x"})
	require.Error(t, err)
	assert.True(t, delivery.IsPermanent(err))
}

func TestLog_Send(t *testing.T) {
	require.NoError(t, Log{}.Send(context.Background(), delivery.Message{To: "a@example.com"}))
}
