// Package audio describes the encoding of captured caller audio. The
// engine only sends audio upstream; playback never happens locally, so
// there is no output side here.
package audio

const (
	// DefaultSampleRate matches what the realtime transcription endpoint
	// expects without resampling.
	DefaultSampleRate = 16000
)

// Format identifies the sample encoding of a capture stream.
type Format string

const (
	FormatLinear16 Format = "linear16"
	FormatMulaw    Format = "mulaw"
	FormatALaw     Format = "alaw"
)

func (f Format) Name() string { return string(f) }

// SampleSize is the byte width of one sample, or -1 for unknown formats.
func (f Format) SampleSize() int {
	switch f {
	case FormatMulaw, FormatALaw:
		return 1
	case FormatLinear16:
		return 2
	}
	return -1
}

// EncodingInfo describes one capture client's output stream.
type EncodingInfo struct {
	SampleRate int
	Format     Format
}

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: FormatLinear16}
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}
