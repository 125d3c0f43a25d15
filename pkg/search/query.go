package search

import (
	"fmt"
	"strings"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
)

// MaxQueryLength bounds the raw query text in runes.
const MaxQueryLength = 256

// MatchExpression validates raw user text and turns it into an FTS5 match
// expression. Every word becomes a quoted phrase so FTS5 operators in user
// input are matched literally; a trailing * keeps its prefix meaning. Words
// are implicitly AND'ed.
func MatchExpression(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty query", apperrors.ErrInvalidQuery)
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: query is not valid UTF-8", apperrors.ErrInvalidQuery)
	}
	if utf8.RuneCountInString(raw) > MaxQueryLength {
		return "", fmt.Errorf("%w: query longer than %d characters", apperrors.ErrInvalidQuery, MaxQueryLength)
	}

	words := strings.Fields(raw)
	phrases := make([]string, 0, len(words))
	for _, w := range words {
		prefix := strings.HasSuffix(w, "*")
		w = strings.Trim(w, `"*`)
		if w == "" || isOperator(w) {
			continue
		}
		phrase := `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
		if prefix {
			phrase += "*"
		}
		phrases = append(phrases, phrase)
	}
	if len(phrases) == 0 {
		return "", fmt.Errorf("%w: query has no searchable terms", apperrors.ErrInvalidQuery)
	}
	return strings.Join(phrases, " "), nil
}

// InjectionCheckResult describes search text that libinjection flags as
// SQL injection.
type InjectionCheckResult struct {
	Fingerprint string
	Query       string
}

// CheckInjection runs libinjection over raw search text and returns nil for
// clean text. Hits are only logged; the text itself is always bound as a
// parameter.
func CheckInjection(raw string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(raw)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{Fingerprint: string(fingerprint), Query: raw}
}

func isOperator(w string) bool {
	switch strings.ToUpper(w) {
	case "AND", "OR", "NOT", "NEAR":
		return true
	}
	return false
}
