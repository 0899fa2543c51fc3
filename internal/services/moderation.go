package services

import (
	"strings"
	"unicode/utf8"

	"lifeisbonusBack/internal/models"
)

const (
	// MaxMessageLength is measured in characters, not bytes.
	MaxMessageLength = 300
	// SpamRepeatThreshold is the run length of one character that counts as spam.
	SpamRepeatThreshold = 9

	// BlockedPlaceholder replaces the text of every blocked message.
	BlockedPlaceholder = "운영 정책에 따라 가려진 메시지입니다."
)

// Moderation reasons.
const (
	ReasonEmpty         = "empty"
	ReasonTooLong       = "too_long"
	ReasonSpamRepeat    = "spam_repeat"
	ReasonPolicyKeyword = "policy_keyword"
)

var policyKeywords = []string{
	"카지노",
	"토토",
	"도박",
	"불법대출",
	"성인방송",
	"마약",
	"casino",
	"viagra",
	"onlyfans",
	"bit.ly/",
}

// Moderate classifies a chat message. The first matching rule wins; blocked results carry
// BlockedPlaceholder instead of the original text.
func Moderate(raw string) models.ModerationResult {
	text := strings.Join(strings.Fields(raw), " ")

	switch {
	case text == "":
		return blocked(ReasonEmpty)
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return blocked(ReasonTooLong)
	case hasRepeatedRun(text, SpamRepeatThreshold):
		return blocked(ReasonSpamRepeat)
	case containsPolicyKeyword(text):
		return blocked(ReasonPolicyKeyword)
	}
	return models.ModerationResult{Status: models.ModerationOK, Text: text}
}

func blocked(reason string) models.ModerationResult {
	return models.ModerationResult{Status: models.ModerationBlocked, Text: BlockedPlaceholder, Reason: reason}
}

func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

func containsPolicyKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range policyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
