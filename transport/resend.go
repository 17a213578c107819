package transport

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"github.com/resend/resend-go/v3"
)

// emailAPI is the subset of the Resend client used here.
type emailAPI interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

var emailTemplates = map[string]emailTemplate{
	"deadline_t_minus_3": mustEmailTemplate(
		`{{.returnType}} for {{.gstin}} is due in 3 days`,
		`<p>Your {{.returnType}} return for period {{.period}} (GSTIN {{.gstin}}) is due on <strong>{{.dueDate}}</strong>.</p>`,
	),
	"deadline_t_minus_1": mustEmailTemplate(
		`{{.returnType}} for {{.gstin}} is due tomorrow`,
		`<p>Reminder: your {{.returnType}} return for period {{.period}} (GSTIN {{.gstin}}) is due tomorrow, <strong>{{.dueDate}}</strong>.</p>`,
	),
	"deadline_due_today": mustEmailTemplate(
		`{{.returnType}} for {{.gstin}} is due today`,
		`<p>Your {{.returnType}} return for period {{.period}} (GSTIN {{.gstin}}) is due <strong>today ({{.dueDate}})</strong>.</p>`,
	),
}

func mustEmailTemplate(subject, body string) emailTemplate {
	return emailTemplate{
		subject: texttemplate.Must(texttemplate.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

// ResendSender delivers reminder emails through Resend.
type ResendSender struct {
	api  emailAPI
	from string
}

// NewResendSender builds a sender backed by the Resend email API.
func NewResendSender(apiKey, from string) *ResendSender {
	client := resend.NewClient(apiKey)
	return &ResendSender{api: client.Emails, from: from}
}

func (s *ResendSender) Name() string { return "resend" }

// Routes reports whether address is an email address.
func (s *ResendSender) Routes(address string) bool { return IsEmail(address) }

func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !IsEmail(msg.Address) {
		return "", fmt.Errorf("%w: resend needs an email address", ErrInvalidAddress)
	}

	subject, body, err := renderEmail(msg.Template, msg.Params)
	if err != nil {
		return "", err
	}

	resp, err := s.api.Send(&resend.SendEmailRequest{
		From:    fmt.Sprintf("Filing Reminders <%s>", s.from),
		To:      []string{msg.Address},
		Subject: subject,
		Html:    body,
	})
	if err != nil {
		return "", fmt.Errorf("transport: resend: %w", err)
	}
	return resp.Id, nil
}

func renderEmail(templateID string, params map[string]string) (string, string, error) {
	tmpl, ok := emailTemplates[templateID]
	if !ok {
		return "", "", fmt.Errorf("transport: no email template %q", templateID)
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, params); err != nil {
		return "", "", fmt.Errorf("transport: render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, params); err != nil {
		return "", "", fmt.Errorf("transport: render body: %w", err)
	}
	return subject.String(), body.String(), nil
}
