package chat

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// timestamp layouts seen from legacy producers, tried in order after
// RFC3339.
var legacyTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalizer converts raw server payloads into canonical Messages. It is the
// single ingestion boundary: history responses, poll results and realtime
// events all pass through Normalize before reaching the store.
//
// Normalize is deterministic except for the clock fallback on unparseable
// timestamps, which marks the result Degraded.
type Normalizer struct {
	// AssetBase resolves relative and shorthand attachment references.
	AssetBase *url.URL
	// Now supplies the fallback timestamp; defaults to time.Now.
	Now func() time.Time
}

// Normalize maps one raw payload to a canonical Message.
func (n Normalizer) Normalize(raw RawMessage) Message {
	content := unwrapContent(raw.Content)
	kind := ParseKind(raw.Kind)
	attachment := n.canonicalURL(raw.Attachment)
	if kind == KindText && attachment != "" {
		// Producers that predate the kind field signal binary content only
		// through the attachment reference.
		kind = KindFile
	}
	createdAt, degraded := n.parseTimestamp(raw.SentAt)
	return Message{
		ID:             raw.ID,
		ConversationID: raw.ConversationID,
		SenderID:       raw.SenderID,
		Content:        content,
		Kind:           kind,
		AttachmentURL:  attachment,
		CreatedAt:      createdAt,
		Degraded:       degraded,
	}
}

// NormalizeAll maps a batch, preserving order.
func (n Normalizer) NormalizeAll(raws []RawMessage) []Message {
	if len(raws) == 0 {
		return nil
	}
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw))
	}
	return out
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// parseTimestamp accepts either a string instant or a component array
// [year, month, day, hour, minute, second, micros]. The month component is
// 1-based and the fractional component is in microseconds; both are reduced
// to what the millisecond-precision display layer needs. Anything else falls
// back to the local clock and flags the message as degraded.
func (n Normalizer) parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return n.now(), true
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if t, ok := parseStringInstant(asString); ok {
			return t.Truncate(time.Millisecond), false
		}
		return n.now(), true
	}

	var parts []int64
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) >= 6 {
		var micros int64
		if len(parts) >= 7 {
			micros = parts[6]
		}
		millis := micros / 1000
		t := time.Date(
			int(parts[0]), time.Month(parts[1]), int(parts[2]),
			int(parts[3]), int(parts[4]), int(parts[5]),
			int(millis)*int(time.Millisecond), time.Local,
		)
		return t, false
	}

	return n.now(), true
}

func parseStringInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// unwrapContent recovers the effective text from double-encoded payloads:
// legacy producers wrap the text as {"message": "..."} and encode the whole
// envelope into the content string.
func unwrapContent(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return content
	}
	var envelope struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil || envelope.Message == nil {
		return content
	}
	return *envelope.Message
}

// canonicalURL resolves attachment references into one absolute URL scheme.
// Accepted inputs: absolute URLs, protocol-relative URLs, absolute paths and
// bare upload tokens. Unresolvable references become empty rather than a
// broken link.
func (n Normalizer) canonicalURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return parsed.String()
	}
	if n.AssetBase == nil {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		parsed.Scheme = n.AssetBase.Scheme
		return parsed.String()
	}
	if strings.HasPrefix(ref, "/") {
		return n.AssetBase.ResolveReference(parsed).String()
	}
	// Bare token: historical uploads are addressed by object name only.
	return n.AssetBase.JoinPath("uploads", ref).String()
}
