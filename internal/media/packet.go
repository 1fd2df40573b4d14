package media

// Packet is one encoded unit of an elementary stream. Timestamps are in
// whatever time base the current owner works in; the encoders produce
// MicrosecondTimeBase and the muxer rescales to its stream time base.
type Packet struct {
	Kind     StreamKind
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
	KeyFrame bool
}

// Clone returns a packet that owns a private copy of Data.
func (p Packet) Clone() Packet {
	c := p
	c.Data = append([]byte(nil), p.Data...)
	return c
}

// RescaleTS converts PTS, DTS and Duration between time bases.
func (p *Packet) RescaleTS(from, to Rational) {
	p.PTS = Rescale(p.PTS, from, to)
	p.DTS = Rescale(p.DTS, from, to)
	p.Duration = Rescale(p.Duration, from, to)
}

const (
	// SampleRate is the capture and encode rate of the audio stream.
	SampleRate = 48000
	// Channels is the interleaved channel count of the audio stream.
	Channels = 2
	// BytesPerSample is the size of one signed 16-bit sample.
	BytesPerSample = 2
	// ChunkFrames is the number of sample frames the device delivers per
	// callback (10ms).
	ChunkFrames = 480
	// ChunkBytes is the byte size of one device chunk.
	ChunkBytes = ChunkFrames * Channels * BytesPerSample
)

// AudioChunk is one device callback worth of interleaved s16 samples,
// stamped on arrival.
type AudioChunk struct {
	PTS     int64
	Samples []byte
}

// Frames returns the number of sample frames in the chunk.
func (c AudioChunk) Frames() int {
	return len(c.Samples) / (Channels * BytesPerSample)
}
