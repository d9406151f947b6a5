package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData wraps template data with app-wide context.
	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// mail templates are kept inline: the only transactional mail today is the
// school invitation.
var (
	textTemplates = map[string]*texttmpl.Template{
		"invitation": texttmpl.Must(texttmpl.New("invitation").Parse(
			"Hello {{ .Data.Name }},\n\n" +
				"You have been invited to join {{ .Data.SchoolName }}.\n" +
				"Sign in with this email address to activate your account:\n\n" +
				"{{ .FrontendBaseURL }}/login\n",
		)),
	}
	htmlTemplates = map[string]*htmltmpl.Template{
		"invitation": htmltmpl.Must(htmltmpl.New("invitation").Parse(
			"<p>Hello {{ .Data.Name }},</p>" +
				"<p>You have been invited to join <strong>{{ .Data.SchoolName }}</strong>. " +
				`Sign in with this email address to activate your account:</p>` +
				`<p><a href="{{ .FrontendBaseURL }}/login">{{ .FrontendBaseURL }}/login</a></p>`,
		)),
	}
)

// Render resolves the message's templated contents, if any.
func (msg *EmailMessage) Render() error {
	if msg.TemplateName == "" {
		return nil
	}
	txt, ok := textTemplates[msg.TemplateName]
	if !ok {
		return errors.Errorf("unknown mail template %q", msg.TemplateName)
	}
	var buf bytes.Buffer
	if err := txt.Execute(&buf, msg.TemplateData); err != nil {
		return errors.Wrapf(err, "rendering text template %q", msg.TemplateName)
	}
	msg.TextContent = buf.String()

	if html, ok := htmlTemplates[msg.TemplateName]; ok {
		buf.Reset()
		if err := html.Execute(&buf, msg.TemplateData); err != nil {
			return errors.Wrapf(err, "rendering html template %q", msg.TemplateName)
		}
		msg.HTMLContent = buf.String()
	}
	return nil
}

func (msg *EmailMessage) HasRecipients() bool {
	return len(msg.To) > 0 || len(msg.Cc) > 0
}

func (msg *EmailMessage) HasContent() bool {
	return msg.BodyStr != "" || msg.TextContent != "" || msg.HTMLContent != ""
}
