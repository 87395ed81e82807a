package audio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAVHeaderOnlyIs44Bytes(t *testing.T) {
	wav, err := EncodeWAVPCM16LE(nil, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44 {
		t.Fatalf("len(wav) = %d, want 44", len(wav))
	}
	f, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 || f.BitsPerSample != 16 || f.DataBytes != 0 {
		t.Fatalf("format = %+v", f)
	}
	if f.Label() != "wav_16000" {
		t.Fatalf("Label() = %q", f.Label())
	}
}

func TestParseWAVReportsDuration(t *testing.T) {
	pcm := make([]byte, 24000*2/2) // half a second at 24kHz mono
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	f, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if f.DurationMS() != 500 {
		t.Fatalf("DurationMS() = %d, want 500", f.DurationMS())
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("this is not audio at all"),
		"truncated": []byte("RIFF\x24\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00"),
	} {
		if _, err := ParseWAV(data); !errors.Is(err, ErrInvalidWAV) {
			t.Fatalf("%s: ParseWAV() error = %v, want ErrInvalidWAV", name, err)
		}
	}
}

func TestWriteWAVPCM16LEFileMatchesEncode(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 22050); err != nil {
		t.Fatalf("WriteWAVPCM16LEFile() error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := EncodeWAVPCM16LE(pcm, 22050)
	if !bytes.Equal(got, want) {
		t.Fatalf("file bytes differ from EncodeWAVPCM16LE")
	}
	if !bytes.Equal(got[44:], pcm) {
		t.Fatalf("data chunk = %v, want %v", got[44:], pcm)
	}
}
