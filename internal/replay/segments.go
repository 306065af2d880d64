package replay

import "github.com/you/chatsync/internal/core"

// Partition splits [0, durationMs] into workers contiguous, equal-width
// segments. The final segment's end is pushed marginMs past the nominal
// duration so rounding and trailing messages are not lost.
func Partition(durationMs int64, workers int, marginMs int64) []core.Segment {
	if workers < 1 {
		workers = 1
	}
	if durationMs < 0 {
		durationMs = 0
	}
	width := durationMs / int64(workers)
	segments := make([]core.Segment, 0, workers)
	for i := 0; i < workers; i++ {
		seg := core.Segment{
			Worker:  i,
			StartMs: int64(i) * width,
			EndMs:   int64(i+1) * width,
		}
		if i == workers-1 {
			seg.EndMs = durationMs + marginMs
		}
		segments = append(segments, seg)
	}
	return segments
}
