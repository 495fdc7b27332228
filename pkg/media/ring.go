package media

import "sync"

// Ring is the fixed-capacity circular sample buffer behind the streaming
// player. It decouples irregular network arrival from the fixed-cadence
// render tick. Cursors increase monotonically; the slot index is the cursor
// modulo capacity.
//
// Overflow policy is newest-wins: when the write cursor catches the read
// cursor, the read cursor is advanced to make room, discarding the oldest
// unread sample. This bounds playback latency instead of letting it grow.
type Ring struct {
	mu    sync.Mutex
	buf   []float32
	read  int64
	write int64
	last  float32
}

// NewRing creates a ring holding capacity samples. Sized for minutes of
// audio in practice, far above any single chunk.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Capacity returns the ring's sample capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Buffered returns the number of unread samples.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.write - r.read)
}

// Write appends normalized float samples at the write cursor, dropping the
// oldest unread samples on overflow.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := int64(len(r.buf))
	for _, s := range samples {
		r.buf[r.write%capacity] = s
		r.write++
		if r.write-r.read > capacity {
			r.read = r.write - capacity
		}
	}
}

// WritePCM16 normalizes 16-bit little-endian PCM into the ring (value/32768).
func (r *Ring) WritePCM16(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := int64(len(r.buf))
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(data[i]) | int16(data[i+1])<<8
		r.buf[r.write%capacity] = float32(v) / 32768
		r.write++
		if r.write-r.read > capacity {
			r.read = r.write - capacity
		}
	}
}

// Render fills dst with one output frame. For each slot it reads the sample
// at the read cursor and advances, unless the read cursor has caught the
// write cursor: on underflow the cursor holds still and the previously read
// sample is repeated, so the renderer never reads ahead of the writer.
func (r *Ring) Render(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := int64(len(r.buf))
	for i := range dst {
		if r.read < r.write {
			r.last = r.buf[r.read%capacity]
			r.read++
		}
		dst[i] = r.last
	}
}

// EndOfAudio fast-forwards the read cursor to the write cursor, discarding
// all unplayed buffered audio. Used when an utterance is interrupted.
func (r *Ring) EndOfAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = r.write
}
