package digits

// earlyBuffer holds digit batches that arrived before any expectation
// existed. Bounded; further input is dropped at capacity.
type earlyBuffer struct {
	items []bufferedItem
}

type bufferedItem struct {
	Digits string
	Meta   Meta
}

// earlyBufferCap bounds total buffered digits per call.
const earlyBufferCap = 50

// push appends a batch, dropping input that would exceed the cap.
func (b *earlyBuffer) push(digits string, meta Meta) bool {
	if b.size()+len(digits) > earlyBufferCap {
		return false
	}
	b.items = append(b.items, bufferedItem{Digits: digits, Meta: meta})
	return true
}

// pop removes and returns the oldest batch.
func (b *earlyBuffer) pop() (bufferedItem, bool) {
	if len(b.items) == 0 {
		return bufferedItem{}, false
	}
	item := b.items[0]
	b.items = b.items[1:]
	return item, true
}

// requeueHead puts a failed item back at the head of the queue.
func (b *earlyBuffer) requeueHead(item bufferedItem) {
	b.items = append([]bufferedItem{item}, b.items...)
}

func (b *earlyBuffer) size() int {
	total := 0
	for _, it := range b.items {
		total += len(it.Digits)
	}
	return total
}

func (b *earlyBuffer) empty() bool {
	return len(b.items) == 0
}

func (b *earlyBuffer) clear() {
	b.items = nil
}
