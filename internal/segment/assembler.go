// Package segment turns a stream of audio payload chunks into bounded,
// ordered segments and keeps closed segments until the session merges them.
package segment

// Segment is a closed run of assembled audio bytes. Data is never written
// after the segment is returned by the Assembler.
type Segment struct {
	Index int
	Data  []byte
}

// Assembler accumulates audio bytes into segments. It is owned by a single
// session loop and is not safe for concurrent use.
type Assembler struct {
	threshold int
	buf       []byte
	next      int
	total     int64
}

// NewAssembler creates an assembler that closes a segment once its size
// exceeds threshold bytes. A negative threshold is treated as zero.
func NewAssembler(threshold int) *Assembler {
	if threshold < 0 {
		threshold = 0
	}
	return &Assembler{threshold: threshold}
}

// Append adds audio bytes to the current segment.
func (a *Assembler) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	a.buf = append(a.buf, p...)
	a.total += int64(len(p))
}

// MaybeClose closes the current segment when force is set or its size
// exceeds the threshold. An empty buffer never produces a segment, so a
// stream that carried no audio closes no segments.
func (a *Assembler) MaybeClose(force bool) *Segment {
	if len(a.buf) == 0 {
		return nil
	}
	if !force && len(a.buf) <= a.threshold {
		return nil
	}

	seg := &Segment{Index: a.next, Data: a.buf}
	a.next++
	a.buf = nil
	return seg
}

// Discard drops the partially filled segment without closing it.
func (a *Assembler) Discard() {
	a.buf = nil
}

// Buffered returns the size of the open segment.
func (a *Assembler) Buffered() int { return len(a.buf) }

// Closed returns how many segments have been closed.
func (a *Assembler) Closed() int { return a.next }

// Total returns all bytes ever appended.
func (a *Assembler) Total() int64 { return a.total }
