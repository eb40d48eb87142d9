package dedup

import (
	"strings"

	"github.com/scoutware/scanrelay/internal/schema"
)

// rawKeyLength caps the fallback identity key taken from raw payload text.
const rawKeyLength = 100

// Record is the view of a stored scan needed for duplicate comparison.
type Record interface {
	ParsedFields() map[string]string
	RawText() string
}

// Index derives stable identity keys for scan payloads and checks
// candidates against the existing history. Two payloads are the same
// underlying observation when their keys are equal, exact string equality,
// no further normalization.
type Index struct{}

// NewIndex creates a duplicate index.
func NewIndex() *Index {
	return &Index{}
}

// Key derives the identity key for a payload. When the parsed mapping
// carries a non-empty match number, team number, and scouter, the key is
// the joined identity fields (absent fields contribute empty components).
// Otherwise the key falls back to the leading characters of the raw text.
func (ix *Index) Key(parsed map[string]string, raw string) string {
	if parsed[schema.FieldMatchNumber] != "" &&
		parsed[schema.FieldTeamNumber] != "" &&
		parsed[schema.FieldScouter] != "" {
		return strings.Join([]string{
			parsed[schema.FieldEvent],
			parsed[schema.FieldMatchLevel],
			parsed[schema.FieldMatchNumber],
			parsed[schema.FieldTeamNumber],
			parsed[schema.FieldScouter],
		}, "|")
	}

	runes := []rune(raw)
	if len(runes) > rawKeyLength {
		runes = runes[:rawKeyLength]
	}
	return string(runes)
}

// FindDuplicate returns the first history record whose identity key equals
// the candidate's, or nil when the candidate is new. History order is
// irrelevant to the result beyond picking which colliding record is
// reported.
func (ix *Index) FindDuplicate(parsed map[string]string, raw string, history []Record) Record {
	key := ix.Key(parsed, raw)
	for _, rec := range history {
		if ix.Key(rec.ParsedFields(), rec.RawText()) == key {
			return rec
		}
	}
	return nil
}
