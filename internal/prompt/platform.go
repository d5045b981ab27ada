package prompt

// platformNotes are short formatting instructions keyed by the
// x-torbo-platform header value. Unknown tags produce no section.
var platformNotes = map[string]string{
	"web":      "You are talking through the web chat. Full markdown is available.",
	"mobile":   "You are talking through a mobile app. Keep answers short; avoid wide tables.",
	"telegram": "You are talking through Telegram. Use Telegram-flavored markdown; no headers; keep messages under a few paragraphs.",
	"discord":  "You are talking through Discord. Discord markdown applies; keep code blocks short.",
	"slack":    "You are talking through Slack. Use Slack mrkdwn (*bold*, _italic_); no markdown tables.",
	"signal":   "You are talking through Signal. Plain text only; no markdown.",
	"whatsapp": "You are talking through WhatsApp. Minimal formatting; short messages.",
	"email":    "You are composing email. Use plain prose with greeting and sign-off; no markdown syntax.",
	"sms":      "You are talking over SMS. Plain text, at most a few sentences.",
}

// PlatformNote returns the formatting note for a platform tag, or "".
func PlatformNote(tag string) string {
	return platformNotes[tag]
}
