package sched

import "time"

// node is an intrusive link embedded in a Thread. A node belongs to at most one
// list; the list field says which.
type node struct {
	prev, next *node
	list       *nodeList
	thread     *Thread
	deadline   time.Duration
}

func (n *node) linked() bool { return n.list != nil }

func (n *node) detach() {
	if n.list != nil {
		n.list.remove(n)
	}
}

// nodeList is a doubly linked FIFO of nodes. It never allocates.
type nodeList struct {
	first, last *node
	n           int
}

func (l *nodeList) empty() bool  { return l.first == nil }
func (l *nodeList) front() *node { return l.first }
func (l *nodeList) len() int     { return l.n }

// append links n at the tail. It reports false if n is already in a list.
func (l *nodeList) append(n *node) bool {
	if n.list != nil {
		return false
	}
	n.list = l
	n.next = nil
	n.prev = l.last
	if l.last != nil {
		l.last.next = n
	} else {
		l.first = n
	}
	l.last = n
	l.n++
	return true
}

// insertBefore links n in front of at, which must be in l.
func (l *nodeList) insertBefore(at, n *node) bool {
	if n.list != nil || at.list != l {
		return false
	}
	n.list = l
	n.next = at
	n.prev = at.prev
	if at.prev != nil {
		at.prev.next = n
	} else {
		l.first = n
	}
	at.prev = n
	l.n++
	return true
}

func (l *nodeList) remove(n *node) {
	if n.list != l {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.first = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.last = n.prev
	}
	n.prev = nil
	n.next = nil
	n.list = nil
	l.n--
}

func (l *nodeList) popFront() *node {
	n := l.first
	if n != nil {
		l.remove(n)
	}
	return n
}

// WaitQueue is a FIFO of blocked threads owned by a synchronization object.
// The scheduler assigns no meaning to why a thread is queued.
//
// The zero value is an empty queue. A WaitQueue must not be copied after use.
type WaitQueue struct {
	l nodeList
}

// Len returns the number of queued threads. Callers outside the scheduler lock
// get a snapshot.
func (q *WaitQueue) Len() int { return q.l.len() }

// readyQueues holds one FIFO per priority level.
type readyQueues [Levels]nodeList

func (r *readyQueues) enqueue(t *Thread) bool {
	t.state = Ready
	return r[t.level].append(&t.link)
}

// highest returns the head of the highest non-empty level without removing it.
func (r *readyQueues) highest() (int, *node) {
	for level := Levels - 1; level >= 0; level-- {
		if n := r[level].front(); n != nil {
			return level, n
		}
	}
	return -1, nil
}

func (r *readyQueues) dequeueHighest() *Thread {
	level, n := r.highest()
	if n == nil {
		return nil
	}
	r[level].remove(n)
	return n.thread
}

// sleepList is ordered ascending by deadline. Equal deadlines keep arrival
// order.
type sleepList struct {
	nodeList
}

func (l *sleepList) insert(n *node) bool {
	for at := l.first; at != nil; at = at.next {
		if n.deadline < at.deadline {
			return l.insertBefore(at, n)
		}
	}
	return l.append(n)
}

// expired pops the head if its deadline is not after now.
func (l *sleepList) expired(now time.Duration) *node {
	n := l.first
	if n == nil || n.deadline > now {
		return nil
	}
	l.remove(n)
	return n
}

func (l *sleepList) sorted() bool {
	for n := l.first; n != nil && n.next != nil; n = n.next {
		if n.deadline > n.next.deadline {
			return false
		}
	}
	return true
}
