// Package privacy keeps credentials out of logs and error messages.
package privacy

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// webhookRe matches the token part of Discord-style webhook URLs
// (https://discord.com/api/webhooks/<id>/<token>).
var webhookRe = regexp.MustCompile(`(/api/webhooks/[0-9]+/)[A-Za-z0-9_\-]+`)

// ScrubWebhooks replaces webhook tokens in text, and any literal secrets
// passed in, with [REDACTED].
func ScrubWebhooks(text string, secrets ...string) string {
	for _, s := range secrets {
		if s != "" {
			text = strings.ReplaceAll(text, s, redactedPlaceholder)
		}
	}
	return webhookRe.ReplaceAllString(text, "${1}"+redactedPlaceholder)
}

// ScrubError wraps err so that its message no longer carries secrets.
// errors.Is/As still see the original error.
func ScrubError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := ScrubWebhooks(err.Error(), secrets...)
	if msg == err.Error() {
		return err
	}
	return &scrubbedError{msg: msg, err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
