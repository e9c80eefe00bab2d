// Package logbuf keeps a bounded, deduplicated window over the engine's log
// stream. Lines arrive either as a bulk snapshot at startup or one at a time
// over the push log channel; the buffer keeps at most Capacity distinct
// lines and tracks per-level counts incrementally.
package logbuf

import (
	"strings"
	"sync"
)

// Capacity is the maximum number of lines held at once. Matches the
// engine-side collector bound.
const Capacity = 5000

type Level int

const (
	LevelInfo Level = iota
	LevelDebug
	LevelWarn
	LevelError
	LevelSuccess
	levelCount
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelSuccess:
		return "SUCCESS"
	}
	return "UNKNOWN"
}

// classifyOrder is the tie-break for lines carrying more than one marker:
// the first matching marker in this fixed order wins.
var classifyOrder = []struct {
	marker string
	level  Level
}{
	{"INFO:", LevelInfo},
	{"DEBUG:", LevelDebug},
	{"WARN:", LevelWarn},
	{"ERROR:", LevelError},
}

// Classify maps a raw log line to its level. Lines without any level marker
// count as SUCCESS.
func Classify(line string) Level {
	for _, c := range classifyOrder {
		if strings.Contains(line, c.marker) {
			return c.level
		}
	}
	return LevelSuccess
}

// Buffer is the ring. Writes come from two origins (snapshot load and push
// stream) that the caller serializes; the mutex only guards against
// concurrent readers.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	entries  []string
	start    int
	size     int
	seen     map[string]struct{}
	counts   [levelCount]int
}

func New() *Buffer {
	return NewWithCapacity(Capacity)
}

func NewWithCapacity(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Buffer{
		capacity: capacity,
		entries:  make([]string, capacity),
		seen:     make(map[string]struct{}),
	}
}

// Ingest appends a line unless identical content is already present. When
// the bound would be exceeded the oldest line is evicted first. Returns
// whether the buffer changed.
func (b *Buffer) Ingest(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.seen[line]; dup {
		return false
	}
	if b.size == b.capacity {
		b.evictOldest()
	}
	b.append(line)
	return true
}

func (b *Buffer) append(line string) {
	b.entries[(b.start+b.size)%b.capacity] = line
	b.size++
	b.seen[line] = struct{}{}
	b.counts[Classify(line)]++
}

func (b *Buffer) evictOldest() {
	oldest := b.entries[b.start]
	delete(b.seen, oldest)
	b.counts[Classify(oldest)]--
	b.start = (b.start + 1) % b.capacity
	b.size--
}

// LoadSnapshot replaces the buffer wholesale with a drained engine snapshot.
// This is the only full recount; duplicates within the snapshot keep their
// first occurrence.
func (b *Buffer) LoadSnapshot(lines []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
	for _, line := range lines {
		if _, dup := b.seen[line]; dup {
			continue
		}
		if b.size == b.capacity {
			b.evictOldest()
		}
		b.append(line)
	}
}

// Clear empties the buffer and zeroes the counters. Telling the engine to
// clear its own store is the caller's job.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Buffer) reset() {
	b.entries = make([]string, b.capacity)
	b.start = 0
	b.size = 0
	b.seen = make(map[string]struct{})
	b.counts = [levelCount]int{}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Count returns the number of currently-held lines of the given level.
func (b *Buffer) Count(level Level) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if level < 0 || level >= levelCount {
		return 0
	}
	return b.counts[level]
}

// Lines returns the buffered lines oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *Buffer) snapshot() []string {
	out := make([]string, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.entries[(b.start+i)%b.capacity])
	}
	return out
}

// Filter returns the lines whose level is enabled and that contain the
// search term, case-insensitively. The result is computed fresh from the
// current buffer state on every call.
func (b *Buffer) Filter(enabled map[Level]bool, term string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	term = strings.ToLower(term)
	out := make([]string, 0, b.size)
	for i := 0; i < b.size; i++ {
		line := b.entries[(b.start+i)%b.capacity]
		if enabled != nil && !enabled[Classify(line)] {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(line), term) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// Export joins the current lines for writing to a file.
func (b *Buffer) Export() string {
	return strings.Join(b.Lines(), "\n")
}
