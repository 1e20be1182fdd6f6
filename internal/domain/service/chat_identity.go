package service

import (
	"strings"

	"jobchat/pkg/errors"
)

// ChatIDSeparator joins the two participant ids. Identifiers must not
// contain it, otherwise distinct pairs could map to the same chat.
const ChatIDSeparator = "_"

// ResolveChatID derives the id of the two-party chat between a and b.
// The result is independent of argument order.
func ResolveChatID(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", errors.InvalidParticipant("participant id must not be empty")
	}
	if strings.Contains(a, ChatIDSeparator) || strings.Contains(b, ChatIDSeparator) {
		return "", errors.InvalidParticipant("participant id must not contain " + ChatIDSeparator)
	}
	if a == b {
		return "", errors.InvalidParticipant("a chat needs two distinct participants")
	}
	if b < a {
		a, b = b, a
	}
	return a + ChatIDSeparator + b, nil
}

// SortedParticipants returns the pair in the order used to build the chat id.
func SortedParticipants(a, b string) []string {
	if b < a {
		return []string{b, a}
	}
	return []string{a, b}
}
