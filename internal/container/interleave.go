package container

import (
	"github.com/asgeir/slickscreen/internal/media"
)

// maxInterleaveDelta bounds how long packets wait for a silent stream.
const maxInterleaveDelta = 10_000_000 // µs

type queued struct {
	stream int
	pkt    media.Packet
	// dts in microseconds, for ordering across streams
	key int64
}

// interleaver releases packets in DTS order across streams. A packet is
// released once every stream has something queued, or when the queued
// span exceeds maxInterleaveDelta.
type interleaver struct {
	timeBases []media.Rational
	queues    [][]queued
}

func newInterleaver(timeBases []media.Rational) *interleaver {
	return &interleaver{timeBases: timeBases, queues: make([][]queued, len(timeBases))}
}

func (il *interleaver) push(stream int, p media.Packet) []queued {
	q := queued{
		stream: stream,
		pkt:    p,
		key:    media.Rescale(p.DTS, il.timeBases[stream], media.MicrosecondTimeBase),
	}
	il.queues[stream] = append(il.queues[stream], q)

	var ready []queued
	for {
		next, ok := il.pop(false)
		if !ok {
			return ready
		}
		ready = append(ready, next)
	}
}

func (il *interleaver) flush() []queued {
	var ready []queued
	for {
		next, ok := il.pop(true)
		if !ok {
			return ready
		}
		ready = append(ready, next)
	}
}

func (il *interleaver) pop(force bool) (queued, bool) {
	best := -1
	allQueued := true
	var minKey, maxKey int64
	empty := true
	for i, q := range il.queues {
		if len(q) == 0 {
			allQueued = false
			continue
		}
		head, tail := q[0].key, q[len(q)-1].key
		if best < 0 || head < il.queues[best][0].key {
			best = i
		}
		if empty || head < minKey {
			minKey = head
		}
		if empty || tail > maxKey {
			maxKey = tail
		}
		empty = false
	}
	if best < 0 {
		return queued{}, false
	}
	if !force && !allQueued && maxKey-minKey <= maxInterleaveDelta {
		return queued{}, false
	}

	next := il.queues[best][0]
	il.queues[best][0] = queued{}
	il.queues[best] = il.queues[best][1:]
	return next, true
}
