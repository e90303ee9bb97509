package notifier

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"
)

var ErrUnknownTemplate = errors.New("unknown template")

type tpl struct {
	subject string
	body    *template.Template
}

func parse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(template.FuncMap{"when": HumanTime}).Option("missingkey=zero").Parse(text))
}

var templates = map[string]tpl{
	"booking_confirmed": {
		subject: "Booking confirmed",
		body:    parse("booking_confirmed",
			`Your session {{.booking_id}} on {{when .scheduled_at}} ({{.duration}} min) is confirmed.`),
	},
	"session_link": {
		subject: "Your session link",
		body:    parse("session_link",
			`Join session {{.booking_id}} here: {{.meeting_url}}`),
	},
	"payment_failed": {
		subject: "Payment failed",
		body:    parse("payment_failed",
			`We could not take payment for booking {{.booking_id}}{{with .reason}} ({{.}}){{end}}. Please try another card.`),
	},
	"booking_cancelled": {
		subject: "Booking cancelled",
		body:    parse("booking_cancelled",
			`Booking {{.booking_id}} was cancelled.{{if and .refund_amount (ne .refund_amount "0")}} A refund of {{.refund_amount}} {{.currency}} is on its way.{{end}}`),
	},
}

// Render fills the named template with data.
func Render(name string, data map[string]string) (subject, body string, err error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	if data == nil {
		data = map[string]string{}
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return t.subject, buf.String(), nil
}

// HumanTime formats an RFC3339 timestamp for people; anything else passes
// through unchanged.
func HumanTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format("Mon 2 Jan 2006 15:04 MST")
}
