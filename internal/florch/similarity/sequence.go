package similarity

// SequenceLog keeps the most recent samples of every client in a fixed-size
// ring buffer. Older samples are overwritten.
type SequenceLog struct {
	capacity int
	buffers  map[int]*ringBuffer
}

type ringBuffer struct {
	samples [][]float64
	start   int
	size    int
}

func NewSequenceLog(capacity int) *SequenceLog {
	if capacity < 1 {
		capacity = 1
	}
	return &SequenceLog{
		capacity: capacity,
		buffers:  make(map[int]*ringBuffer),
	}
}

// Append stores a copy of sample as the newest entry of the client.
func (l *SequenceLog) Append(clientId int, sample []float64) {
	buffer, ok := l.buffers[clientId]
	if !ok {
		buffer = &ringBuffer{samples: make([][]float64, l.capacity)}
		l.buffers[clientId] = buffer
	}

	stored := make([]float64, len(sample))
	copy(stored, sample)

	if buffer.size < l.capacity {
		buffer.samples[(buffer.start+buffer.size)%l.capacity] = stored
		buffer.size++
		return
	}
	buffer.samples[buffer.start] = stored
	buffer.start = (buffer.start + 1) % l.capacity
}

func (l *SequenceLog) Len(clientId int) int {
	buffer, ok := l.buffers[clientId]
	if !ok {
		return 0
	}
	return buffer.size
}

// Ready reports whether every listed client holds a full window.
func (l *SequenceLog) Ready(clientIds []int) bool {
	for _, id := range clientIds {
		if l.Len(id) < l.capacity {
			return false
		}
	}
	return true
}

// Recent returns a copy of the client's window, oldest sample first.
func (l *SequenceLog) Recent(clientId int) Sequence {
	buffer, ok := l.buffers[clientId]
	if !ok {
		return Sequence{}
	}
	out := make(Sequence, buffer.size)
	for i := 0; i < buffer.size; i++ {
		sample := buffer.samples[(buffer.start+i)%l.capacity]
		out[i] = make([]float64, len(sample))
		copy(out[i], sample)
	}
	return out
}

// Clear drops the history of the listed clients.
func (l *SequenceLog) Clear(clientIds []int) {
	for _, id := range clientIds {
		delete(l.buffers, id)
	}
}
