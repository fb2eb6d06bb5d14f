package protocol

import (
	"encoding/binary"
	"math"
)

// writer appends fields in wire order. Records are small and fixed
// size, so the backing slice is allocated up front.
type writer struct {
	b []byte
}

func newWriter(size int, tag Tag) *writer {
	w := &writer{b: make([]byte, 0, size)}
	w.u8(uint8(tag))
	return w
}

func (w *writer) u8(v uint8)   { w.b = append(w.b, v) }
func (w *writer) u32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }
func (w *writer) f32(v float32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, math.Float32bits(v))
}

func (w *writer) vec3(v Vec3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

// stringN writes s into a fixed-width field, zero padded, truncated if
// longer than n.
func (w *writer) stringN(s string, n int) {
	b := make([]byte, n)
	copy(b, s)
	w.b = append(w.b, b...)
}

// reader consumes fields in wire order. A read past the end sets fail
// and returns zero values; callers check fail once at the end.
type reader struct {
	b    []byte
	off  int
	fail bool
}

func newReader(b []byte, tag Tag) *reader {
	r := &reader{b: b}
	if r.u8() != uint8(tag) {
		r.fail = true
	}
	return r
}

func (r *reader) u8() uint8 {
	if r.off+1 > len(r.b) {
		r.fail = true
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	if r.off+4 > len(r.b) {
		r.fail = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) vec3() Vec3 {
	return Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *reader) stringN(n int) string {
	if r.off+n > len(r.b) {
		r.fail = true
		return ""
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	// Trim at the first NUL; fixed-width ASCII fields are zero padded.
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

// rest returns the unparsed tail of the buffer.
func (r *reader) rest() []byte {
	return r.b[r.off:]
}
