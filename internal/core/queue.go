package core

import (
	"math/rand"
)

// Queue is an ordered sequence of tracks with a movable current-index cursor.
// It is not safe for concurrent use on its own: every mutation happens inside
// the owning tenant's serialization unit (see Registry).
type Queue struct {
	tracks  []Track
	current int
}

func NewQueue() *Queue {
	return &Queue{current: -1}
}

func (q *Queue) Len() int {
	return len(q.tracks)
}

// Current returns the track under the cursor, false when there is none.
func (q *Queue) Current() (Track, bool) {
	if q.current < 0 || q.current >= len(q.tracks) {
		return Track{}, false
	}
	return q.tracks[q.current], true
}

// Append adds a track to the tail. A queue with no current track, whether
// fresh or exhausted, gets its cursor pointed at the new track; exhausted
// queues keep their played history, which must not become current again.
func (q *Queue) Append(track Track) {
	q.tracks = append(q.tracks, track)
	if q.current < 0 {
		q.current = len(q.tracks) - 1
	}
}

// RemoveAt removes the track at index. Removing before the cursor shifts the
// cursor back so it keeps pointing at the same track; removing the current
// track leaves the cursor on the following one.
func (q *Queue) RemoveAt(index int) error {
	if index < 0 || index >= len(q.tracks) {
		return ErrIndexOutOfRange
	}
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	if index < q.current {
		q.current--
	}
	if q.current >= len(q.tracks) {
		q.current = len(q.tracks) - 1 // -1 when emptied
	}
	return nil
}

func (q *Queue) Clear() {
	q.tracks = nil
	q.current = -1
}

// HasNext reports whether Advance would yield a track.
func (q *Queue) HasNext() bool {
	return q.current >= 0 && q.current+1 < len(q.tracks)
}

// Advance moves the cursor forward and returns the new current track. On
// exhaustion the cursor drops to -1 and ok is false.
func (q *Queue) Advance() (Track, bool) {
	if !q.HasNext() {
		q.current = -1
		return Track{}, false
	}
	q.current++
	return q.tracks[q.current], true
}

// Restart rewinds the cursor to the head, used by queue-loop mode after
// exhaustion.
func (q *Queue) Restart() (Track, bool) {
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	q.current = 0
	return q.tracks[0], true
}

// ShuffleRemaining randomizes the order of the tracks after the cursor.
// Played history keeps its order; membership never changes.
func (q *Queue) ShuffleRemaining() {
	start := q.current + 1
	rest := q.tracks[start:]
	for i := len(rest) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		rest[i], rest[j] = rest[j], rest[i]
	}
}

// ToSlice returns a copy of the half-open range [start, end), clamped to the
// queue bounds. start at or past the end yields an empty slice.
func (q *Queue) ToSlice(start, end int) []Track {
	if start < 0 {
		start = 0
	}
	if end > len(q.tracks) {
		end = len(q.tracks)
	}
	if start >= end {
		return []Track{}
	}
	out := make([]Track, end-start)
	copy(out, q.tracks[start:end])
	return out
}
