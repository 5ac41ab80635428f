package session

const (
	// SequenceUnordered input is delivered as soon as it reaches the head of
	// the queue, regardless of gaps.
	SequenceUnordered = -1
	// SequenceFlush input makes the whole backlog deliverable in queued order.
	SequenceFlush = -2

	// DefaultAutoFlushLength is the backlog length at which a sequence gap
	// is given up on.
	DefaultAutoFlushLength = 40
)

// Input is one fragment of client input: text or an interrupt.
type Input struct {
	Text      string `json:"text,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty"`
	// Sequence orders fragments starting at 1, or is SequenceUnordered or
	// SequenceFlush.
	Sequence int `json:"sequence"`
	// Echo asks for the text to be mirrored into the scrollback when the
	// process does not echo it.
	Echo bool `json:"echo,omitempty"`
}

// TextInput is a convenience for unordered text.
func TextInput(text string) Input {
	return Input{Text: text, Sequence: SequenceUnordered}
}

// InterruptInput is a convenience for an unordered interrupt.
func InterruptInput(echo bool) Input {
	return Input{Interrupt: true, Sequence: SequenceUnordered, Echo: echo}
}

func (in Input) Empty() bool {
	return !in.Interrupt && in.Text == ""
}

func (in Input) ordered() bool {
	return in.Sequence > 0
}

// inputQueue orders input fragments. It is not synchronized; Session guards
// it with its input lock.
type inputQueue struct {
	items []Input
	// last is the last delivered ordered sequence, 0 before the first.
	last      int
	autoFlush int
}

func newInputQueue(autoFlush int) inputQueue {
	if autoFlush < 1 {
		autoFlush = DefaultAutoFlushLength
	}
	return inputQueue{autoFlush: autoFlush}
}

func (q *inputQueue) len() int {
	return len(q.items)
}

// enqueue adds in to the queue and reports whether it was kept. Ordered
// input at or below the last released sequence is discarded: a duplicate, or
// a fragment arriving after an auto-flush already gave up on it. A repeat of
// a queued sequence is discarded too.
func (q *inputQueue) enqueue(in Input) bool {
	switch {
	case in.Sequence == SequenceFlush:
		q.items = append(q.items, in)
		for i := range q.items {
			q.items[i].Sequence = SequenceUnordered
		}
		q.last = 0
		return true
	case !in.ordered():
		in.Sequence = SequenceUnordered
		q.items = append(q.items, in)
		return true
	}

	if in.Sequence <= q.last {
		return false
	}
	for i, queued := range q.items {
		if queued.Sequence == in.Sequence {
			return false
		}
		if in.Sequence < queued.Sequence {
			q.items = append(q.items, Input{})
			copy(q.items[i+1:], q.items[i:])
			q.items[i] = in
			return true
		}
	}
	q.items = append(q.items, in)
	return true
}

// dequeue pops the next deliverable input. It reports false when the queue
// is empty or blocked on a sequence gap.
func (q *inputQueue) dequeue() (Input, bool) {
	if len(q.items) == 0 {
		return Input{}, false
	}

	head := q.items[0]
	if !head.ordered() {
		q.pop()
		return head, true
	}

	if head.Sequence == q.last+1 {
		q.last++
		q.pop()
		return head, true
	}

	if len(q.items) < q.autoFlush {
		return Input{}, false
	}

	// The gap is not going to be filled; release everything in order.
	for i := range q.items {
		if q.items[i].Sequence > q.last {
			q.last = q.items[i].Sequence
		}
		q.items[i].Sequence = SequenceUnordered
	}
	head.Sequence = SequenceUnordered
	q.pop()
	return head, true
}

func (q *inputQueue) pop() {
	q.items[0] = Input{}
	q.items = q.items[1:]
}
