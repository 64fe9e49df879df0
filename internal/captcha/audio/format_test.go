package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"mp3 with id3 tag", []byte("ID3\x04\x00\x00\x00"), "mp3"},
		{"mp3 raw frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "mp3"},
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "wav"},
		{"ogg", []byte("OggS\x00\x02\x00\x00"), "ogg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DetectFormat(tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectFormatRejectsUnknown(t *testing.T) {
	_, err := DetectFormat([]byte("<html><body>not audio</body></html>"))
	assert.Error(t, err)
}

func TestDetectFormatRejectsShortPayload(t *testing.T) {
	_, err := DetectFormat([]byte("ID"))
	assert.Error(t, err)
}

func TestDetectFormatRejectsNonWaveRIFF(t *testing.T) {
	_, err := DetectFormat([]byte("RIFF\x10\x00\x00\x00AVI LIST"))
	assert.Error(t, err)
}
