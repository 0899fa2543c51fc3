package services

import (
	"strings"
	"testing"

	"lifeisbonusBack/internal/models"
)

func TestModerate(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		status string
		reason string
		text   string
	}{
		{name: "empty", in: "", status: models.ModerationBlocked, reason: ReasonEmpty, text: BlockedPlaceholder},
		{name: "whitespace only", in: "   \t\n ", status: models.ModerationBlocked, reason: ReasonEmpty, text: BlockedPlaceholder},
		{name: "nine repeats", in: strings.Repeat("a", 9), status: models.ModerationBlocked, reason: ReasonSpamRepeat, text: BlockedPlaceholder},
		{name: "eight repeats", in: strings.Repeat("a", 8), status: models.ModerationOK, text: strings.Repeat("a", 8)},
		{name: "hangul repeats", in: "ㅋㅋㅋㅋㅋㅋㅋㅋㅋ", status: models.ModerationBlocked, reason: ReasonSpamRepeat, text: BlockedPlaceholder},
		{name: "mixed case keyword", in: "join my CaSiNo tonight", status: models.ModerationBlocked, reason: ReasonPolicyKeyword, text: BlockedPlaceholder},
		{name: "korean keyword", in: "오늘 토토 할래?", status: models.ModerationBlocked, reason: ReasonPolicyKeyword, text: BlockedPlaceholder},
		{name: "normalizes whitespace", in: "  안녕   하세요 \n 반가워요 ", status: models.ModerationOK, text: "안녕 하세요 반가워요"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Moderate(tc.in)
			if got.Status != tc.status {
				t.Fatalf("status = %q, want %q", got.Status, tc.status)
			}
			if got.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tc.reason)
			}
			if got.Text != tc.text {
				t.Errorf("text = %q, want %q", got.Text, tc.text)
			}
		})
	}
}

func TestModerateLengthIsCountedInCharacters(t *testing.T) {
	// 300 three-byte runes pass even though they are 900 bytes long.
	atCap := strings.Repeat("가나다라마바사아자차", 30)
	if got := Moderate(atCap); got.Blocked() {
		t.Fatalf("300 characters should pass, got %+v", got)
	}
	if got := Moderate(atCap + "카"); got.Reason != ReasonTooLong {
		t.Fatalf("301 characters: reason = %q, want %q", got.Reason, ReasonTooLong)
	}
}

func TestModerateRulesApplyInOrder(t *testing.T) {
	// Too long wins over spam and keyword checks.
	long := strings.Repeat("a", 301) + " casino"
	if got := Moderate(long); got.Reason != ReasonTooLong {
		t.Fatalf("reason = %q, want %q", got.Reason, ReasonTooLong)
	}
	// Spam wins over keyword.
	if got := Moderate("!!!!!!!!!! casino"); got.Reason != ReasonSpamRepeat {
		t.Fatalf("reason = %q, want %q", got.Reason, ReasonSpamRepeat)
	}
}
