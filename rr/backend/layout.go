package backend

// MemoryLayout appends named blocks to a linear buffer, aligning each block
// start.
type MemoryLayout struct {
	alignment uint64
	size      uint64
	blocks    []layoutBlock
}

type layoutBlock struct {
	name   string
	offset uint64
	size   uint64
}

// Create a layout whose blocks start at multiples of alignment.
func NewMemoryLayout(alignment uint64) *MemoryLayout {
	if alignment == 0 {
		alignment = 1
	}
	return &MemoryLayout{alignment: alignment}
}

// Append a block and return its offset.
func (l *MemoryLayout) Append(name string, size uint64) uint64 {
	offset := RoundUp(l.size, l.alignment)
	l.blocks = append(l.blocks, layoutBlock{name: name, offset: offset, size: size})
	l.size = offset + size
	return offset
}

// Offset returns the offset of a named block.
func (l *MemoryLayout) Offset(name string) (uint64, bool) {
	for _, b := range l.blocks {
		if b.name == name {
			return b.offset, true
		}
	}
	return 0, false
}

// Size returns the total layout size rounded up to the alignment.
func (l *MemoryLayout) Size() uint64 {
	return RoundUp(l.size, l.alignment)
}
