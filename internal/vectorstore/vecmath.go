package vectorstore

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeFloat32s serializes v as little-endian float32s.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes b into buf, growing it only when needed so a
// full scan reuses one buffer.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b)/(|a||b|) given the precomputed norm of a.
// Vectors of different length or zero norm score 0.
func cosine(a, b []float32, aNorm float64) float32 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	if bSq == 0 {
		return 0
	}
	return float32(dot / (aNorm * math.Sqrt(bSq)))
}

type scored struct {
	id    string
	score float32
}

// topK keeps the k best scores seen so far in a min-heap.
type topK struct {
	k int
	h scoredHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(scoredHeap, 0, k)}
}

func (t *topK) offer(id string, score float32) {
	if t.k <= 0 {
		return
	}
	if t.h.Len() < t.k {
		heap.Push(&t.h, scored{id: id, score: score})
		return
	}
	if c := (scored{id: id, score: score}); better(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// sorted drains the heap, best first.
func (t *topK) sorted() []scored {
	out := make([]scored, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&t.h).(scored)
	}
	return out
}

func better(a, b scored) bool {
	if a.score == b.score {
		return a.id < b.id
	}
	return a.score > b.score
}

// scoredHeap is a min-heap on score; ties put the larger id on top so the
// retained set, and its order, does not depend on scan order.
type scoredHeap []scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
