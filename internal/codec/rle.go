// Package codec implements the run-length chunk codec used on the wire.
//
// Voxel chunks are dominated by long runs of identical block ids (air,
// stone), so the format spends one token byte on the common case:
//
//	L (4..254), v        L copies of v
//	255, L2, v           255+L2 copies of v
//	L (0..3), raw...     L literal bytes
//
// Both halves are pure functions; the compressed stream carries no
// header, the receiver must know the decoded length up front.
package codec

import "errors"

var (
	ErrEmptyInput = errors.New("codec: empty input")
	ErrTruncated  = errors.New("codec: truncated stream")
	ErrOverrun    = errors.New("codec: output overrun")
	ErrLength     = errors.New("codec: decoded length mismatch")
)

const (
	minRun       = 4   // shortest run worth a run token
	maxShortRun  = 254 // one-byte length
	maxLongRun   = 255 + 255
	longRunMark  = 255
	maxLiteral   = 3
)

// Compress encodes src as a run-length token stream. It never fails on
// well-formed input; the only error is a nil or empty src.
func Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, ErrEmptyInput
	}

	// Runs at least halve in the common case; start small and let
	// append grow for pathological input.
	out := make([]byte, 0, len(src)/4+16)

	i := 0
	for i < len(src) {
		run := runLength(src, i)
		if run >= minRun {
			v := src[i]
			i += run
			for run > 0 {
				n := run
				if n > maxLongRun {
					n = maxLongRun
				}
				// Never leave a tail too short to encode as a run.
				if rem := run - n; rem > 0 && rem < minRun {
					n = run - minRun
				}
				if n > maxShortRun {
					out = append(out, longRunMark, byte(n-longRunMark), v)
				} else {
					out = append(out, byte(n), v)
				}
				run -= n
			}
			continue
		}

		// Literal: gather up to maxLiteral bytes, stopping where a run
		// token becomes legal.
		start := i
		for i < len(src) && i-start < maxLiteral && runLength(src, i) < minRun {
			i++
		}
		out = append(out, byte(i-start))
		out = append(out, src[start:i]...)
	}
	return out, nil
}

// runLength reports how many consecutive bytes starting at i equal src[i].
func runLength(src []byte, i int) int {
	n := 1
	for i+n < len(src) && src[i+n] == src[i] {
		n++
	}
	return n
}

// Decompress decodes a token stream produced by Compress. decodedLen is
// the exact expected output size; anything else is malformed. On error
// the returned slice holds partial output and must be discarded.
func Decompress(src []byte, decodedLen int) ([]byte, error) {
	if len(src) == 0 || decodedLen <= 0 {
		return nil, ErrEmptyInput
	}

	out := make([]byte, 0, decodedLen)
	i := 0
	for i < len(src) {
		t := int(src[i])
		i++
		switch {
		case t == longRunMark:
			if i+2 > len(src) {
				return out, ErrTruncated
			}
			n := longRunMark + int(src[i])
			v := src[i+1]
			i += 2
			if len(out)+n > decodedLen {
				return out, ErrOverrun
			}
			for k := 0; k < n; k++ {
				out = append(out, v)
			}
		case t >= minRun:
			if i >= len(src) {
				return out, ErrTruncated
			}
			v := src[i]
			i++
			if len(out)+t > decodedLen {
				return out, ErrOverrun
			}
			for k := 0; k < t; k++ {
				out = append(out, v)
			}
		default:
			if i+t > len(src) {
				return out, ErrTruncated
			}
			if len(out)+t > decodedLen {
				return out, ErrOverrun
			}
			out = append(out, src[i:i+t]...)
			i += t
		}
	}
	if len(out) != decodedLen {
		return out, ErrLength
	}
	return out, nil
}
