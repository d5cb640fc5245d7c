package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/sift/internal/signal"
)

// Chat-style destinations cap the metadata fields block for rendering.
const maxMetaFields = 10

var slackWebhookRe = regexp.MustCompile(`hooks\.slack\.com/services/`)

// buildBody serializes the channel-specific representation: block layout
// for Slack-style destinations, a flat object otherwise. An empty URL
// builds the flat form so the no-op result can still carry the payload.
func (d *Dispatcher) buildBody(url string, p *Payload) ([]byte, error) {
	ts := d.now().UTC().Format(time.RFC3339)

	if slackWebhookRe.MatchString(url) {
		return json.Marshal(buildBlocks(p, ts))
	}
	return json.Marshal(map[string]any{
		"text":  p.Message,
		"level": string(p.Severity),
		"meta":  p.Meta,
		"ts":    ts,
	})
}

func buildBlocks(p *Payload, ts string) map[string]any {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s SIFT %s", severityEmoji(p.Severity), strings.ToUpper(string(p.Severity))),
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": p.Message,
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("sift • trace %s • %s", p.TraceID, ts),
				},
			},
		},
	}

	if len(p.Meta) > 0 {
		blocks = append(blocks, map[string]any{
			"type":   "section",
			"fields": metaFields(p.Meta),
		})
	}

	return map[string]any{
		"text":   p.Message,
		"blocks": blocks,
	}
}

// metaFields renders metadata in a stable key order, capped for the
// channel layout.
func metaFields(meta map[string]string) []map[string]any {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxMetaFields {
		keys = keys[:maxMetaFields]
	}

	fields := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:* %s", k, meta[k]),
		})
	}
	return fields
}

func severityEmoji(sev signal.Severity) string {
	switch sev {
	case signal.SeverityCritical, signal.SeverityHigh:
		return "\U0001f534" // red circle
	case signal.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

// sign computes the hex HMAC-SHA256 of body under secret, attached as the
// X-Webhook-Signature header. Deterministic so tests can assert it.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
