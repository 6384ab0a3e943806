package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Notifier composes account emails that link back to the frontend.
type Notifier struct {
	sender      Sender
	frontendURL string
}

func NewNotifier(sender Sender, frontendURL string) *Notifier {
	return &Notifier{sender: sender, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (n *Notifier) link(path, token string) string {
	return n.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func greeting(name string) string {
	if name == "" {
		return "Hello,"
	}
	return "Hello " + name + ","
}

func (n *Notifier) SendVerification(ctx context.Context, to, name, token string) error {
	body := fmt.Sprintf("%s\n\nPlease confirm your email address by opening the link below:\n\n%s\n",
		greeting(name), n.link("/verify-email", token))

	return n.sender.Send(ctx, Email{
		To:      []string{to},
		Subject: "Verify your email",
		Body:    body,
	})
}

func (n *Notifier) SendPasswordReset(ctx context.Context, to, name, token string) error {
	body := fmt.Sprintf("%s\n\nA password reset was requested for your account. "+
		"Open the link below to choose a new password:\n\n%s\n\n"+
		"If you did not request this, you can ignore this email.\n",
		greeting(name), n.link("/reset-password", token))

	return n.sender.Send(ctx, Email{
		To:      []string{to},
		Subject: "Reset your password",
		Body:    body,
	})
}
