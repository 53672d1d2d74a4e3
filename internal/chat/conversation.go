package chat

import "strings"

// ConversationID derives the group key for the pair {a, b}. The message
// handlers and the hub must agree on it, otherwise both clients end up in
// different groups.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// Counterpart returns the other participant of conversationID when userID is
// one of its two members.
func Counterpart(conversationID, userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	if other, ok := strings.CutPrefix(conversationID, userID+"-"); ok && other != "" {
		if ConversationID(userID, other) == conversationID {
			return other, true
		}
	}
	if other, ok := strings.CutSuffix(conversationID, "-"+userID); ok && other != "" {
		if ConversationID(userID, other) == conversationID {
			return other, true
		}
	}
	return "", false
}
