package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

const confirmationSubject = "Plausch - Bestätige deine E-Mail-Adresse"

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; color: #333;">
  <h2 style="font-weight: bold; color: #000;">{{if .Resend}}Dein neuer Bestätigungslink{{else}}Willkommen bei Plausch, {{.DisplayName}}!{{end}}</h2>
  <p>Bitte bestätige deine E-Mail-Adresse, um deinen Account zu aktivieren.</p>
  <p>
    <a href="{{.Link}}" style="color: #000; text-decoration: none; font-weight: bold;">
      <strong>Hier klicken, um die E-Mail-Adresse zu bestätigen</strong>
    </a>
  </p>
  <hr />
  <p style="font-size: 12px; color: #666;">
    Falls du dich nicht bei Plausch registriert hast, ignoriere diese Nachricht.
  </p>
</div>
`))

// ConfirmationLink appends the token to the frontend's confirmation page
// URL, keeping any query parameters already on it.
func ConfirmationLink(confirmURL, token string) (string, error) {
	u, err := url.Parse(confirmURL)
	if err != nil {
		return "", fmt.Errorf("notify: parsing confirm url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ConfirmationRequest is the data for one confirmation mail.
type ConfirmationRequest struct {
	To          string
	DisplayName string
	ConfirmURL  string
	Token       string
	// Resend switches the heading for a mail requested again.
	Resend bool
}

// ConfirmationMessage renders the confirmation mail for req.
func ConfirmationMessage(req ConfirmationRequest) (Message, error) {
	link, err := ConfirmationLink(req.ConfirmURL, req.Token)
	if err != nil {
		return Message{}, err
	}

	var body bytes.Buffer
	err = confirmationTemplate.Execute(&body, struct {
		DisplayName string
		Link        string
		Resend      bool
	}{req.DisplayName, link, req.Resend})
	if err != nil {
		return Message{}, fmt.Errorf("notify: rendering confirmation mail: %w", err)
	}

	return Message{
		To:       req.To,
		Subject:  confirmationSubject,
		HTMLBody: body.String(),
	}, nil
}
