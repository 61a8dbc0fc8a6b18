package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/resend/resend-go/v2"
)

//go:embed templates/*.html
var templatesFS embed.FS

var welcomeTmpl = template.Must(template.ParseFS(templatesFS, "templates/welcome.html"))

const welcomeSubject = "Welcome! Please activate your account"

// mailer is the subset of the Resend emails service used here.
type mailer interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendSender sends the welcome mail through the Resend API.
type ResendSender struct {
	emails        mailer
	from          string
	activationURL string
}

// NewResendSender returns a sender using apiKey. from is the sender identity,
// e.g. "Your Application <hello@app.com>".
func NewResendSender(apiKey, from, activationURL string) (*ResendSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("notify: RESEND_API_KEY is required for the resend driver")
	}
	return &ResendSender{
		emails:        resend.NewClient(apiKey).Emails,
		from:          from,
		activationURL: activationURL,
	}, nil
}

// RenderWelcome renders the HTML body of the welcome mail.
func RenderWelcome(msg Welcome, activationURL string) (string, error) {
	var body bytes.Buffer
	err := welcomeTmpl.Execute(&body, struct {
		Welcome
		Link string
	}{msg, ActivationLink(activationURL, msg.ActivationToken)})
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to execute welcome template")
	}
	return body.String(), nil
}

func (s *ResendSender) SendWelcome(ctx context.Context, msg Welcome) error {
	if err := msg.validate(); err != nil {
		return err
	}
	html, err := RenderWelcome(msg, s.activationURL)
	if err != nil {
		return err
	}
	_, err = s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.Email},
		Subject: welcomeSubject,
		Html:    html,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to send welcome email")
	}
	return nil
}
