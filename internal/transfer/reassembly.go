package transfer

// incoming collects the chunks of one blob. Slots are indexed by chunk
// index; a chunk delivered twice overwrites its slot without counting twice.
type incoming struct {
	total  uint32
	slots  [][]byte
	filled uint32
}

func newIncoming(total uint32) *incoming {
	return &incoming{total: total, slots: make([][]byte, total)}
}

// accepts reports whether a chunk with this header belongs to the transfer.
func (in *incoming) accepts(index, total uint32) bool {
	return total == in.total && index < in.total
}

func (in *incoming) put(index uint32, payload []byte) {
	if in.slots[index] == nil {
		in.filled++
	}
	if payload == nil {
		payload = []byte{}
	}
	in.slots[index] = payload
}

func (in *incoming) progress() float64 {
	if in.total == 0 {
		return 100
	}
	return float64(in.filled) / float64(in.total) * 100
}

func (in *incoming) complete() bool {
	return in.filled == in.total
}

func (in *incoming) assemble() Blob {
	size := 0
	for _, s := range in.slots {
		size += len(s)
	}
	data := make([]byte, 0, size)
	for _, s := range in.slots {
		data = append(data, s...)
	}
	return Blob{Data: data, MIMEType: MIMEOctetStream}
}
