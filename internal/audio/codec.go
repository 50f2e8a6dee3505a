// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audio

import (
	"math"

	"github.com/zaf/g711"
)

const (
	// TelephonySampleRate is the native G.711 sampling rate.
	TelephonySampleRate = 8000
	// PipelineSampleRate is the rate every downstream consumer expects.
	PipelineSampleRate = 16000
)

// DecodeULaw decodes G.711 mu-law bytes to 16-bit signed linear PCM.
// One input byte yields exactly one output sample.
func DecodeULaw(in []byte) []int16 {
	if len(in) == 0 {
		return nil
	}
	return BytesToPCM16(g711.DecodeUlaw(in))
}

// DecodeALaw decodes G.711 A-law bytes to 16-bit signed linear PCM.
func DecodeALaw(in []byte) []int16 {
	if len(in) == 0 {
		return nil
	}
	return BytesToPCM16(g711.DecodeAlaw(in))
}

// Resample8kTo16k upsamples telephony-rate PCM to the pipeline rate by
// inserting one linearly interpolated sample between each input pair. The
// output is always exactly twice the input length.
func Resample8kTo16k(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		if i+1 < len(samples) {
			out[i*2+1] = int16((int32(s) + int32(samples[i+1])) / 2)
		} else {
			out[i*2+1] = s
		}
	}
	return out
}

// PCM16ToBytes serializes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToPCM16 reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is ignored.
func BytesToPCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// RMS computes the root-mean-square amplitude of the frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var acc float64
	for _, s := range samples {
		acc += float64(s) * float64(s)
	}
	return math.Sqrt(acc / float64(len(samples)))
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs whose sign
// differs, in [0, 1].
func ZeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// PCM16ToFloat32 converts samples to [-1, 1] floats, the layout neural
// detectors consume.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
