// Package progress fans judge status updates out to in-process
// subscribers, typically websocket sessions owned by the controller.
package progress

import (
	"sync"

	"github.com/ZeroOneDeveloper/code01-judge/internal/judge/model"
)

const defaultBufferSize = 16

// Broker routes status snapshots by submission id. Publish never
// blocks: a subscriber that falls behind loses intermediate updates
// and only the latest snapshot is kept for it.
type Broker struct {
	mu        sync.RWMutex
	subs      map[string]map[chan model.JudgeStatusResponse]struct{}
	lastSeen  map[string]model.JudgeStatusResponse
	bufferLen int
	closed    bool
}

func NewBroker() *Broker {
	return &Broker{
		subs:      make(map[string]map[chan model.JudgeStatusResponse]struct{}),
		lastSeen:  make(map[string]model.JudgeStatusResponse),
		bufferLen: defaultBufferSize,
	}
}

// Subscribe registers a listener for one submission. The returned
// channel first replays the latest known snapshot, if any. Callers
// must call the cancel func when done.
func (b *Broker) Subscribe(submissionID string) (<-chan model.JudgeStatusResponse, func()) {
	ch := make(chan model.JudgeStatusResponse, b.bufferLen)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[submissionID]
	if !ok {
		set = make(map[chan model.JudgeStatusResponse]struct{})
		b.subs[submissionID] = set
	}
	set[ch] = struct{}{}
	// Replay under the lock: the channel is fresh and buffered so the
	// send cannot block, and Close cannot slip in between registration
	// and replay and close the channel under us.
	if snapshot, ok := b.lastSeen[submissionID]; ok {
		ch <- snapshot
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[submissionID]
		if !ok {
			return
		}
		if _, ok := set[ch]; !ok {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, submissionID)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers a snapshot to all subscribers of the submission.
// Terminal snapshots clear the retained state since no further
// updates will follow.
func (b *Broker) Publish(status model.JudgeStatusResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if status.Status.Terminal() {
		delete(b.lastSeen, status.SubmissionID)
	} else {
		b.lastSeen[status.SubmissionID] = status
	}
	for ch := range b.subs[status.SubmissionID] {
		select {
		case ch <- status:
		default:
			// slow subscriber, drop the oldest and retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = make(map[string]map[chan model.JudgeStatusResponse]struct{})
	b.lastSeen = make(map[string]model.JudgeStatusResponse)
}
