package payload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}

	inputs := []string{
		"",
		"Alice\tFRC123\tQual\t5\t254\t1\t4\t7\t2\t1\t3\tgreat match",
		"Alice FRC123 Qual Level 2 5 3",
		"unicode: über-scout räumt ab",
		strings.Repeat("defense played hard ", 50),
	}

	for _, input := range inputs {
		encoded, err := codec.Encode(input)
		require.NoError(t, err)

		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	}
}

func TestDecodeToleratesUnpaddedBase64(t *testing.T) {
	codec := Codec{}

	encoded, err := codec.Encode("Alice FRC123 Qual 5 254")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(encoded, "="), "test needs a padded encoding")

	decoded, err := codec.Decode(strings.TrimRight(encoded, "="))
	require.NoError(t, err)
	assert.Equal(t, "Alice FRC123 Qual 5 254", decoded)
}

func TestDecodeToleratesGzipFraming(t *testing.T) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write([]byte("Bob FRC456 Playoff 2 1114"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	decoded, err := Codec{}.Decode(base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "Bob FRC456 Playoff 2 1114", decoded)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := Codec{}

	// Not base64 at all.
	_, err := codec.Decode("Alice FRC123 Qual")
	assert.Error(t, err)

	// Valid base64, but the bytes are not a compressed stream.
	_, err = codec.Decode(base64.StdEncoding.EncodeToString([]byte("hello world")))
	assert.Error(t, err)
}
