package agent

import "strings"

// ParseApprovalMessage interprets a free-form follow-up message as an
// approval decision. Reject keywords are checked first: "不同意" contains
// "同意", so the order is load-bearing. The second return is false when the
// message is not a recognizable decision.
func ParseApprovalMessage(message string) (decision string, ok bool) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return "", false
	}
	lower := strings.ToLower(msg)

	for _, kw := range []string{"拒绝", "不同意", "不允许"} {
		if strings.Contains(msg, kw) {
			return "reject", true
		}
	}
	switch lower {
	case "no", "n", "reject", "deny", "refuse":
		return "reject", true
	}

	for _, kw := range []string{"同意", "允许"} {
		if strings.Contains(msg, kw) {
			return "approve", true
		}
	}
	switch lower {
	case "yes", "y", "ok", "approve", "allow":
		return "approve", true
	}

	return "", false
}
