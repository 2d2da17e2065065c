package web

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/csvreport/internal/mailer"
	"github.com/JonMunkholm/csvreport/internal/report"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no cause", nil, "validation"},
		{"csv", &report.ParseError{Line: 2, Err: errors.New("bad")}, "csv"},
		{"no data", report.ErrNoData, "csv"},
		{"credentials", mailer.ErrNotConfigured, "config"},
		{"auth", &mailer.SendError{Kind: mailer.FailureAuth, Message: "recusado"}, "smtp_auth"},
		{"wrapped auth", fmt.Errorf("send: %w", &mailer.SendError{Kind: mailer.FailureAuth}), "smtp_auth"},
		{"smtp reply", &mailer.SendError{Kind: mailer.FailureProtocol, Message: "Erro SMTP: 550"}, "smtp"},
		{"other", errors.New("boom"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}
