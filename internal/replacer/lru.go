package replacer

import (
	"container/list"
	"sync"
)

// LRU is the default replacement policy: victims are chosen from the set
// of evictable frames in strict least-recently-used order.
//
// Internally it keeps an ordered list of evictable frames with the
// most-recently-used at the front and the least-recently-used at the back,
// mirroring the ordering a cache.LRUManager keeps for its hot/cold list.
type LRU struct {
	mu sync.Mutex

	capacity int
	order    *list.List               // MRU at Front, LRU at Back; holds frameIDs
	elems    map[int]*list.Element    // frameID -> its element in order (only while evictable)
	present  map[int]struct{}         // frameIDs ever touched, evictable or not
}

// NewLRU creates an LRU replacer tracking up to capacity frames.
func NewLRU(capacity int) *LRU {
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		elems:    make(map[int]*list.Element, capacity),
		present:  make(map[int]struct{}, capacity),
	}
}

func (l *LRU) RecordAccess(frameID int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.present[frameID] = struct{}{}
	if e, ok := l.elems[frameID]; ok {
		l.order.MoveToFront(e)
	}
}

func (l *LRU) SetEvictable(frameID int, evictable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.present[frameID] = struct{}{}
	e, tracked := l.elems[frameID]

	if evictable {
		if tracked {
			l.order.MoveToFront(e)
			return
		}
		l.elems[frameID] = l.order.PushFront(frameID)
		return
	}

	if tracked {
		l.order.Remove(e)
		delete(l.elems, frameID)
	}
}

func (l *LRU) Evict() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	back := l.order.Back()
	if back == nil {
		return 0, false
	}
	frameID := back.Value.(int)
	l.order.Remove(back)
	delete(l.elems, frameID)
	delete(l.present, frameID)
	return frameID, true
}

func (l *LRU) Remove(frameID int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.elems[frameID]; ok {
		l.order.Remove(e)
		delete(l.elems, frameID)
	}
	delete(l.present, frameID)
}

func (l *LRU) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
