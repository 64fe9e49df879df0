package audio

import (
	"bytes"
	"fmt"
)

// DetectFormat sniffs the audio container from magic bytes. Captcha audio
// arrives without trustworthy Content-Type headers, so the bytes decide.
func DetectFormat(data []byte) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("audio payload too short: %d bytes", len(data))
	}
	switch {
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3", nil
	case data[0] == 0xFF && (data[1]&0xE0) == 0xE0:
		// Raw MPEG frame sync without an ID3 tag
		return "mp3", nil
	case bytes.HasPrefix(data, []byte("RIFF")):
		if len(data) >= 12 && bytes.Equal(data[8:12], []byte("WAVE")) {
			return "wav", nil
		}
		return "", fmt.Errorf("RIFF container is not WAVE")
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg", nil
	}
	return "", fmt.Errorf("unrecognized audio format (first bytes: % x)", data[:4])
}
