package patchcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// AudioBuffer is a stereo audio buffer; each element is one frame, left and
// right.
type AudioBuffer [][2]float32

type AudioSink interface {
	WriteAudio(buffer AudioBuffer) error
	Close() error
}

type AudioContext interface {
	Output() AudioSink
	Close() error
}

// Source returns an io.Reader that yields the buffer as interleaved little
// endian float32 samples, for audio backends that pull from a reader.
func (buffer AudioBuffer) Source() io.Reader {
	return &audioBufferReader{buffer: buffer}
}

type audioBufferReader struct {
	buffer AudioBuffer
	pos    int // in bytes from the start of the buffer
}

func (r *audioBufferReader) Read(p []byte) (n int, err error) {
	for len(p)-n >= 8 && r.pos < len(r.buffer)*8 {
		frame := r.buffer[r.pos/8]
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(frame[0]))
		binary.LittleEndian.PutUint32(p[n+4:], math.Float32bits(frame[1]))
		n += 8
		r.pos += 8
	}
	if r.pos >= len(r.buffer)*8 {
		return n, io.EOF
	}
	return n, nil
}

// Wav encodes the buffer as a stereo .wav file, as 32-bit float samples, or
// 16-bit signed PCM if pcm16 is set.
func (buffer AudioBuffer) Wav(sampleRate int, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	wavHeader(len(buffer)*2, sampleRate, pcm16, buf)
	err := buffer.rawToBuffer(pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Wav failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Raw encodes the buffer as interleaved raw samples, float32 by default or
// int16 if pcm16 is set.
func (buffer AudioBuffer) Raw(pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := buffer.rawToBuffer(pcm16, buf)
	if err != nil {
		return nil, fmt.Errorf("Raw failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (buffer AudioBuffer) rawToBuffer(pcm16 bool, buf *bytes.Buffer) error {
	var err error
	if pcm16 {
		int16data := make([]int16, len(buffer)*2)
		for i, frame := range buffer {
			int16data[i*2] = int16(clamp(int(frame[0]*math.MaxInt16), math.MinInt16, math.MaxInt16))
			int16data[i*2+1] = int16(clamp(int(frame[1]*math.MaxInt16), math.MinInt16, math.MaxInt16))
		}
		err = binary.Write(buf, binary.LittleEndian, int16data)
	} else {
		err = binary.Write(buf, binary.LittleEndian, buffer)
	}
	if err != nil {
		return fmt.Errorf("could not binary write data to binary buffer: %w", err)
	}
	return nil
}

// wavHeader writes a wave header into the bytes.Buffer. bufferLength is the
// total number of samples (stereo L + R both counted). pcm16 = true means a
// header for int16 audio; false means 32-bit IEEE float audio.
func wavHeader(bufferLength int, sampleRate int, pcm16 bool, buf *bytes.Buffer) {
	// Refer to: http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
	numChannels := 2
	var bytesPerSample, chunkSize, fmtChunkSize, waveFormat int
	var factChunk bool
	if pcm16 {
		bytesPerSample = 2
		chunkSize = 36 + bytesPerSample*bufferLength
		fmtChunkSize = 16
		waveFormat = 1 // PCM
		factChunk = false
	} else {
		bytesPerSample = 4
		chunkSize = 50 + bytesPerSample*bufferLength
		fmtChunkSize = 18
		waveFormat = 3 // IEEE float
		factChunk = true
	}
	buf.Write([]byte("RIFF"))
	binary.Write(buf, binary.LittleEndian, uint32(chunkSize))
	buf.Write([]byte("WAVE"))
	buf.Write([]byte("fmt "))
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(waveFormat))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*numChannels*bytesPerSample)) // avgBytesPerSec
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bytesPerSample))            // blockAlign
	binary.Write(buf, binary.LittleEndian, uint16(8*bytesPerSample))                      // bits per sample
	if fmtChunkSize > 16 {
		binary.Write(buf, binary.LittleEndian, uint16(0)) // size of extension
	}
	if factChunk {
		buf.Write([]byte("fact"))
		binary.Write(buf, binary.LittleEndian, uint32(4))            // fact chunk size
		binary.Write(buf, binary.LittleEndian, uint32(bufferLength)) // sample length
	}
	buf.Write([]byte("data"))
	binary.Write(buf, binary.LittleEndian, uint32(bytesPerSample*bufferLength))
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
