package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidWAV is returned when bytes do not form a RIFF/WAVE stream.
var ErrInvalidWAV = errors.New("invalid wav")

// Format is the fmt chunk of a WAV stream.
type Format struct {
	AudioFormat   uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	// DataBytes is the length of the data chunk; zero for a header-only file.
	DataBytes int
}

// Label is the value served in the X-Audio-Format response header.
func (f Format) Label() string {
	return fmt.Sprintf("wav_%d", f.SampleRate)
}

// Duration of the data chunk in milliseconds, zero when unknown.
func (f Format) DurationMS() int {
	frame := f.Channels * f.BitsPerSample / 8
	if frame <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return f.DataBytes / frame * 1000 / f.SampleRate
}

type pcmHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32
	WAVE          [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	const channels, bits = 1, 16
	h := pcmHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bits / 8),
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, &h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// ParseWAV walks the RIFF chunks of data and returns its format. A file with
// a valid fmt chunk and an empty or absent data chunk is accepted.
func ParseWAV(data []byte) (Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}
	var (
		f       Format
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return Format{}, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, id)
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			f.AudioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			f.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFmt = true
		case "data":
			f.DataBytes = size
		}
		off += size + size%2
	}
	if !haveFmt {
		return Format{}, fmt.Errorf("%w: fmt chunk missing", ErrInvalidWAV)
	}
	if f.Channels == 0 || f.SampleRate <= 0 {
		return Format{}, fmt.Errorf("%w: channels=%d sample_rate=%d", ErrInvalidWAV, f.Channels, f.SampleRate)
	}
	return f, nil
}
