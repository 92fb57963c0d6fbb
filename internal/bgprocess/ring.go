package bgprocess

import (
	"sync"
	"time"

	"github.com/loopbackai/agentd/pkg/types"
)

// ringBuffer holds a background process's output chunks, evicting the
// oldest chunks once the total buffered byte count exceeds maxBytes.
type ringBuffer struct {
	mu      sync.Mutex
	chunks  []types.OutputChunk
	bytes   int64
	maxBytes int64
	nextSeq int64
}

func newRing(maxBytes int64) *ringBuffer {
	return &ringBuffer{maxBytes: maxBytes}
}

// Write appends a chunk and evicts from the head until the buffer fits
// within maxBytes again (P7: sum(len(chunk.text)) <= maxBufferSize).
func (r *ringBuffer) Write(stream types.OutputStream, text string) types.OutputChunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk := types.OutputChunk{
		Seq:    r.nextSeq,
		Stream: stream,
		Text:   text,
		Ts:     time.Now().UnixMilli(),
	}
	r.nextSeq++

	r.chunks = append(r.chunks, chunk)
	r.bytes += int64(len(text))

	for r.bytes > r.maxBytes && len(r.chunks) > 0 {
		evicted := r.chunks[0]
		r.chunks = r.chunks[1:]
		r.bytes -= int64(len(evicted.Text))
	}

	return chunk
}

// After returns chunks with Seq > afterSeq matching stream (StreamBoth
// matches everything), capped at limit, plus whether more remain beyond it.
func (r *ringBuffer) After(afterSeq int64, limit int, stream types.OutputStream) ([]types.OutputChunk, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []types.OutputChunk
	for _, c := range r.chunks {
		if c.Seq <= afterSeq {
			continue
		}
		if stream != "" && stream != types.StreamBoth && c.Stream != stream {
			continue
		}
		matched = append(matched, c)
	}

	if limit <= 0 || len(matched) <= limit {
		return matched, false, nil
	}
	return matched[:limit], true, nil
}
