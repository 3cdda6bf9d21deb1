package voicecall

import (
	"encoding/binary"
	"math"
)

// rateTolerance is the largest native/target rate mismatch (Hz) that still
// passes through without resampling.
const rateTolerance = 100

// Encoder converts native-rate float32 frames into fixed-size PCM16LE blocks
// at the target rate. It runs on the capture callback path and must stay
// allocation-light: the accumulator is reused across calls and partial tail
// data is retained until the next frame completes a block.
//
// The block passed to emit is only valid for the duration of the call;
// consumers that hold on to it must copy.
type Encoder struct {
	nativeRate int
	targetRate int
	blockSize  int // samples per emitted block
	acc        []int16
	scratch    []byte
	emit       func(block []byte)
}

func NewEncoder(nativeRate, targetRate, blockSize int, emit func(block []byte)) *Encoder {
	return &Encoder{
		nativeRate: nativeRate,
		targetRate: targetRate,
		blockSize:  blockSize,
		acc:        make([]int16, 0, blockSize),
		scratch:    make([]byte, blockSize*2),
		emit:       emit,
	}
}

// Process consumes one captured frame. An empty frame is a no-op.
func (e *Encoder) Process(frame []float32) {
	if len(frame) == 0 {
		return
	}

	diff := e.nativeRate - e.targetRate
	if diff < 0 {
		diff = -diff
	}
	if diff > rateTolerance {
		frame = resampleLinear(frame, e.nativeRate, e.targetRate)
	}

	for _, s := range frame {
		e.acc = append(e.acc, floatToPCM16(s))
		if len(e.acc) == e.blockSize {
			for i, v := range e.acc {
				binary.LittleEndian.PutUint16(e.scratch[i*2:], uint16(v))
			}
			e.emit(e.scratch[:e.blockSize*2])
			e.acc = e.acc[:0]
		}
	}
}

// floatToPCM16 clamps to [-1,1] and scales asymmetrically so that both full
// scales are representable: -1.0 -> -32768, 1.0 -> 32767. The conversion
// truncates toward zero.
func floatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// resampleLinear converts frame from one rate to another by linear
// interpolation between neighboring samples.
func resampleLinear(frame []float32, fromRate, toRate int) []float32 {
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(frame)) / ratio)
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(frame)-1 {
			out[i] = frame[len(frame)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = frame[idx]*(1-frac) + frame[idx+1]*frac
	}
	return out
}

// pcm16ToFloat expands a PCM16LE buffer to normalized float32 samples.
func pcm16ToFloat(block []byte) []float32 {
	out := make([]float32, len(block)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(block[i*2:]))) / 32768.0
	}
	return out
}

// rmsPCM16 computes root-mean-square energy over a PCM16LE block with
// samples normalized to [-1,1]. All-zero input yields exactly 0.
func rmsPCM16(block []byte) float64 {
	n := len(block) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(block[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// meanAbs computes the mean absolute amplitude of normalized samples.
func meanAbs(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	return sum / float64(len(samples))
}
