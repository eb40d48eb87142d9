package payload

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// Codec is the reversible compact encoding used by optical producers that
// run out of code capacity: DEFLATE wrapped in standard base64. Decode also
// tolerates gzip framing and unpadded base64, since producers vary.
type Codec struct{}

// Encode compresses text and returns it as base64.
func (Codec) Encode(text string) (string, error) {
	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}

	if _, err := writer.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("failed to compress payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to flush compressor: %w", err)
	}

	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// Decode reverses Encode. It returns an error for anything that is not
// valid base64-wrapped DEFLATE or gzip data.
func (Codec) Decode(text string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		// Some producers strip the padding.
		raw, err = base64.RawStdEncoding.DecodeString(text)
		if err != nil {
			return "", fmt.Errorf("failed to decode base64 payload: %w", err)
		}
	}

	result, err := io.ReadAll(flate.NewReader(bytes.NewReader(raw)))
	if err != nil {
		// Fall back to gzip framing.
		reader, gzErr := gzip.NewReader(bytes.NewReader(raw))
		if gzErr != nil {
			return "", fmt.Errorf("failed to decompress payload: %w", err)
		}
		result, err = io.ReadAll(reader)
		if err != nil {
			return "", fmt.Errorf("failed to decompress payload: %w", err)
		}
		reader.Close()
	}

	return string(result), nil
}
