package gscan

import (
	"context"
	"log"
	"sync"
)

// handler takes care of faning out incoming frames to any subs
type handler struct {
	adapter   Adapter
	close     chan struct{}
	closeOnce sync.Once

	submap     map[uint32]map[*Subscriber]struct{}
	globalSubs []*Subscriber

	mu sync.RWMutex
}

func newHandler(adapter Adapter) *handler {
	return &handler{
		close:      make(chan struct{}),
		adapter:    adapter,
		submap:     make(map[uint32]map[*Subscriber]struct{}),
		globalSubs: make([]*Subscriber, 0, 100),
	}
}

func (h *handler) registerSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(sub.identifiers) == 0 {
		h.globalSubs = append(h.globalSubs, sub)
		return
	}
	for id := range sub.identifiers {
		if _, ok := h.submap[id]; !ok {
			h.submap[id] = make(map[*Subscriber]struct{})
		}
		h.submap[id][sub] = struct{}{}
	}
}

func (h *handler) unregisterSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(sub.identifiers) == 0 {
		for i, s := range h.globalSubs {
			if s == sub {
				h.globalSubs = append(h.globalSubs[:i], h.globalSubs[i+1:]...)
				break
			}
		}
		close(sub.responseChan)
		return
	}
	for id := range sub.identifiers {
		if subs, ok := h.submap[id]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.submap, id)
			}
		}
	}
	close(sub.responseChan)
}

func (h *handler) run(ctx context.Context) {
	recvChan := h.adapter.Recv()
	for {
		select {
		case <-h.close:
			return
		case <-ctx.Done():
			return
		case frame, ok := <-recvChan:
			if !ok {
				log.Println("incoming channel closed")
				return
			}
			h.deliver(frame)
		}
	}
}

// deliver holds RLock while sending so unregisterSubscriber cannot close a
// responseChan mid-send.
func (h *handler) deliver(frame *CANFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.globalSubs {
		sub.deliver(frame)
	}
	for sub := range h.submap[frame.Identifier] {
		sub.deliver(frame)
	}
}

func (h *handler) Close() {
	h.closeOnce.Do(func() {
		close(h.close)
	})
}
