package span

// List is an intrusive, doubly-linked list of *Span values: spans link
// together through their own prev/next fields rather than through a
// separate node wrapper, so membership costs no allocation and unlinking
// a span is O(1) without knowing its position.
//
// The zero value is an empty, ready-to-use list.
type List struct {
	head, tail *Span
	size       int
}

// Len returns the number of spans in the list.
func (l *List) Len() int { return l.size }

// Front returns the span at the front of the list, or nil if empty.
func (l *List) Front() *Span { return l.head }

// Back returns the span at the back of the list, or nil if empty.
func (l *List) Back() *Span { return l.tail }

// Next returns the span following s, or nil if s is the last element.
func Next(s *Span) *Span { return s.next }

// Prev returns the span preceding s, or nil if s is the first element.
func Prev(s *Span) *Span { return s.prev }

// PushFront inserts s at the front of the list. s must not already belong
// to a list.
func (l *List) PushFront(s *Span) {
	if l.head == nil {
		l.tail = s
	} else {
		s.next = l.head
		l.head.prev = s
	}
	l.head = s
	l.size++
}

// PushBack inserts s at the back of the list. s must not already belong to
// a list.
func (l *List) PushBack(s *Span) {
	if l.tail == nil {
		l.head = s
	} else {
		s.prev = l.tail
		l.tail.next = s
	}
	l.tail = s
	l.size++
}

// Remove detaches s from the list. s must belong to this list. Does
// nothing if s is nil.
func (l *List) Remove(s *Span) {
	if s == nil {
		return
	}
	prev, next := s.prev, s.next
	s.prev, s.next = nil, nil

	if prev != nil {
		prev.next = next
	}
	if next != nil {
		next.prev = prev
	}
	if s == l.head {
		l.head = next
	}
	if s == l.tail {
		l.tail = prev
	}
	l.size--
}

// PopFront removes and returns the span at the front of the list, or nil
// if the list is empty.
func (l *List) PopFront() *Span {
	s := l.head
	l.Remove(s)
	return s
}

// Empty reports whether the list has no spans.
func (l *List) Empty() bool { return l.head == nil }
