package search

import (
	"html"
	"regexp"
	"strings"
)

// Markers FTS5 wraps around matched tokens. Upsert strips them from indexed
// text, so any marker in a fragment came from FTS5.
const (
	markOpen  = "\x02"
	markClose = "\x03"
)

// highlightToken matches, in escaped text, the match markers and the
// emphasis tags that may be restored: em, strong, b and mark.
var highlightToken = regexp.MustCompile(`\x02|\x03|&lt;(/?)(em|strong|b|mark)&gt;`)

var markStripper = strings.NewReplacer(markOpen, "", markClose, "")

type tagToken struct {
	start, end int
	name       string
	closing    bool
	keep       bool
}

// SafeHighlight escapes a highlighted fragment for HTML display. Match
// markers become <mark> and bare em, strong, b and mark tags are kept when
// they open and close inside the fragment. Unpaired or mis-nested tags are
// dropped; everything else is escaped.
func SafeHighlight(fragment string) string {
	escaped := html.EscapeString(fragment)
	tokens := balanceTokens(escaped)
	if len(tokens) == 0 {
		return escaped
	}

	var b strings.Builder
	b.Grow(len(escaped) + len(tokens)*4)
	last := 0
	for _, tok := range tokens {
		b.WriteString(escaped[last:tok.start])
		last = tok.end
		if !tok.keep {
			continue
		}
		tag := tok.name
		if tag == markOpen {
			tag = "mark"
		}
		if tok.closing {
			b.WriteString("</" + tag + ">")
		} else {
			b.WriteString("<" + tag + ">")
		}
	}
	b.WriteString(escaped[last:])
	return b.String()
}

// balanceTokens finds the tag tokens in escaped text and marks the ones that
// form properly nested pairs. A close with no open is dropped, as is every
// open left unclosed or skipped over by an outer close.
func balanceTokens(escaped string) []tagToken {
	locs := highlightToken.FindAllStringSubmatchIndex(escaped, -1)
	if len(locs) == 0 {
		return nil
	}

	tokens := make([]tagToken, len(locs))
	var stack []int
	for i, loc := range locs {
		tok := tagToken{start: loc[0], end: loc[1]}
		switch raw := escaped[loc[0]:loc[1]]; raw {
		case markOpen:
			tok.name = markOpen
		case markClose:
			tok.name, tok.closing = markOpen, true
		default:
			tok.name = escaped[loc[4]:loc[5]]
			tok.closing = loc[3] > loc[2]
		}
		tokens[i] = tok

		if !tok.closing {
			stack = append(stack, i)
			continue
		}
		for j := len(stack) - 1; j >= 0; j-- {
			if tokens[stack[j]].name != tok.name {
				continue
			}
			tokens[stack[j]].keep = true
			tokens[i].keep = true
			stack = stack[:j]
			break
		}
	}
	return tokens
}

func hasMatch(fragment string) bool {
	return strings.Contains(fragment, markOpen)
}
