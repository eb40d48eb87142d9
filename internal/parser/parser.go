package parser

import (
	"strings"
	"unicode"

	"github.com/scoutware/scanrelay/internal/schema"
)

// DefaultContinuationWords are label words that optical producers emit as a
// separate token from their numeric argument when the payload is
// whitespace-delimited ("Level 2" arriving as "Level", "2").
var DefaultContinuationWords = []string{"Level"}

// Parser splits a normalized payload into canonical fields. Delimiter
// detection, token repair, and overflow folding follow the transmission
// conventions of the scouting producers: tab-delimited payloads are trusted
// as segmented, whitespace-delimited payloads get token repair and fold
// their overflow into the trailing comment column.
type Parser struct {
	schema       *schema.Schema
	continuation map[string]bool
}

// New creates a parser for the given schema. continuationWords may be nil,
// in which case DefaultContinuationWords is used.
func New(s *schema.Schema, continuationWords []string) *Parser {
	if continuationWords == nil {
		continuationWords = DefaultContinuationWords
	}
	continuation := make(map[string]bool, len(continuationWords))
	for _, w := range continuationWords {
		continuation[w] = true
	}
	return &Parser{schema: s, continuation: continuation}
}

// Parse maps the payload text onto the schema. It never fails: short input
// produces a partial mapping, empty input an empty one. Fields with no
// token are absent from the result, not empty.
func (p *Parser) Parse(text string) map[string]string {
	parsed := make(map[string]string)
	if text == "" {
		return parsed
	}

	tabbed := strings.Contains(text, "\t")

	var tokens []string
	if tabbed {
		// Tabs preserve field boundaries, including empty fields.
		tokens = strings.Split(text, "\t")
	} else {
		tokens = p.Repair(strings.Fields(text))
	}

	commentIdx := p.schema.CommentIndex()
	for i := 0; i < p.schema.Arity() && i < len(tokens); i++ {
		if i == commentIdx && !tabbed {
			// Everything from the comment position onward belongs to the
			// comment; overflow folds instead of being dropped.
			parsed[p.schema.FieldAt(i)] = strings.Join(tokens[i:], " ")
			break
		}
		parsed[p.schema.FieldAt(i)] = tokens[i]
	}

	return parsed
}

// Tokenize splits text on whitespace runs and applies token repair. This is
// the fallback segmentation used when no parsed mapping exists for a
// record.
func (p *Parser) Tokenize(text string) []string {
	return p.Repair(strings.Fields(text))
}

// Repair merges each continuation word with a directly following purely
// numeric token ("Level", "2" becomes "Level 2"). Only whitespace-split
// token streams are repaired; tab-delimited payloads never pass through
// here.
func (p *Parser) Repair(tokens []string) []string {
	repaired := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if p.continuation[tokens[i]] && i+1 < len(tokens) && isNumeric(tokens[i+1]) {
			repaired = append(repaired, tokens[i]+" "+tokens[i+1])
			i++
			continue
		}
		repaired = append(repaired, tokens[i])
	}
	return repaired
}

// isNumeric reports whether the token consists solely of digits.
func isNumeric(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
