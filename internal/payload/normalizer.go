package payload

import (
	"strings"
	"unicode"

	"github.com/scoutware/scanrelay/pkg/logger"
)

// Decoder expands a compact-encoded payload back to delimited text.
type Decoder interface {
	Decode(text string) (string, error)
}

// Normalizer turns a freshly decoded optical payload into clean delimited
// text. It trims the payload, strips stray carriage returns and line feeds,
// and expands compact-encoded payloads when the encoding is detected or
// forced. Normalization never fails: a payload that cannot be expanded is
// passed through as-is.
type Normalizer struct {
	decoder Decoder
	logger  *logger.Logger
}

// NewNormalizer creates a normalizer using the given decoder.
func NewNormalizer(decoder Decoder, log *logger.Logger) *Normalizer {
	return &Normalizer{
		decoder: decoder,
		logger:  log.Named("normalizer"),
	}
}

// Normalize cleans the payload text. When forceCompact is true the payload
// is always treated as compact-encoded; otherwise expansion is applied only
// when the cleaned text contains no whitespace but its expansion does,
// which is the signature of an encoded record (plain records always carry
// field delimiters).
func (n *Normalizer) Normalize(text string, forceCompact bool) string {
	cleaned := clean(text)
	if cleaned == "" {
		return cleaned
	}

	// Expansion can only apply to forced payloads or payloads with no
	// delimiters at all.
	if !forceCompact && containsWhitespace(cleaned) {
		return cleaned
	}

	expanded, err := n.decoder.Decode(cleaned)
	if err != nil {
		// Not compact-encoded (or corrupt). Keep the cleaned text.
		n.logger.Debug("Payload not compact-encoded, keeping raw text",
			logger.Int("length", len(cleaned)),
			logger.Error(err))
		return cleaned
	}

	expanded = clean(expanded)
	if expanded == "" {
		return cleaned
	}

	if forceCompact || containsWhitespace(expanded) {
		n.logger.Debug("Expanded compact payload",
			logger.Int("encoded_length", len(cleaned)),
			logger.Int("expanded_length", len(expanded)))
		return expanded
	}

	return cleaned
}

// clean trims surrounding whitespace and removes embedded line breaks,
// which scanners emulating keyboards tend to inject.
func clean(text string) string {
	text = strings.TrimSpace(text)
	if strings.ContainsAny(text, "\r\n") {
		text = strings.NewReplacer("\r", "", "\n", "").Replace(text)
	}
	return text
}

func containsWhitespace(text string) bool {
	return strings.IndexFunc(text, unicode.IsSpace) >= 0
}
