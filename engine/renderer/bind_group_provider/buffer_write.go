package bind_group_provider

import "github.com/Carmen-Shannon/lumen/engine/renderer/upload"

// BufferWrite describes a single GPU buffer write operation targeting a specific binding
// on a BindGroupProvider at a given byte offset.
type BufferWrite struct {
	Provider BindGroupProvider
	Binding  int
	Offset   uint64
	Data     []byte
}

// Staged reports whether the write is large enough to go through a staging buffer instead of a
// direct queue write.
func (w BufferWrite) Staged() bool {
	return upload.NeedsStaging(len(w.Data))
}

// Coalesce merges writes that target the same buffer at adjacent offsets, preserving order.
//
// Parameters:
//   - writes: the writes in submission order
//
// Returns:
//   - []BufferWrite: the merged writes
func Coalesce(writes []BufferWrite) []BufferWrite {
	if len(writes) < 2 {
		return writes
	}
	out := make([]BufferWrite, 0, len(writes))
	for _, w := range writes {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Provider == w.Provider && last.Binding == w.Binding && last.Offset+uint64(len(last.Data)) == w.Offset {
				last.Data = append(last.Data[:len(last.Data):len(last.Data)], w.Data...)
				continue
			}
		}
		out = append(out, w)
	}
	return out
}
