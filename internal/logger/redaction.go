package logger

import (
	"io"
	"regexp"
)

// Redactor scrubs the credentials this process is configured with from log
// output before it reaches any writer: provider API keys, the Telegram bot
// token, webhook route tokens and HMAC secrets, and the gateway handshake
// token.
type Redactor struct {
	patterns []*regexp.Regexp
}

// defaultPatterns covers the secret shapes that can show up in config dumps,
// environment assignments and request logs. The Anthropic key pattern comes
// before the OpenAI one so the longer prefix is matched whole.
var defaultPatterns = []string{
	// Provider API keys.
	`sk-ant-[A-Za-z0-9_-]{20,}`,
	`sk-[A-Za-z0-9_-]{20,}`,

	// Telegram bot tokens: numeric bot id, colon, secret part.
	`\d{8,10}:[A-Za-z0-9_-]{30,}`,

	// Authorization headers and webhook token headers.
	`Bearer\s+[A-Za-z0-9._~+/=-]+`,
	`(?i)x-webhook-token["\s:=]+\S+`,

	// Gateway handshake tokens in logged URLs.
	`token=[A-Za-z0-9._~-]{8,}`,

	// Route tokens, HMAC secrets and keys in config or env dumps.
	`(?i)(api_key|apikey|bot_token|secret|token)["\s:=]+[A-Za-z0-9._~+/-]{8,}`,
	`ORKESTRA_[A-Z_]*(KEY|TOKEN|SECRET)=\S+`,
}

// NewRedactor builds a redactor with the default pattern set.
func NewRedactor() *Redactor {
	patterns := make([]*regexp.Regexp, 0, len(defaultPatterns))
	for _, p := range defaultPatterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return &Redactor{patterns: patterns}
}

// AddPattern registers an extra redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every matched secret with a placeholder.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write redacts and forwards. The reported length is the forwarded write's,
// which may differ from len(p); zerolog does not resume partial writes, so
// that is acceptable here.
func (w *redactingWriter) Write(p []byte) (int, error) {
	return w.writer.Write([]byte(w.redactor.Redact(string(p))))
}
