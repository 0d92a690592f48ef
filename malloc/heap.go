package malloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"

	"github.com/cloudwego/heapx/brk"
	"github.com/cloudwego/heapx/logger"
)

const (
	// headerSize is the size of the header added to each allocation.
	headerSize = 8

	// magic is the magic number checked to detect double-free/invalid blocks.
	magic uint32 = 0xBADF00D

	// DefaultMinBlockSize is the default minimum block size (8KB).
	DefaultMinBlockSize = 8 * 1024 // 8KB = 2^13

	// DefaultMaxBlockSize is the default maximum block size (512KB).
	DefaultMaxBlockSize = 512 * 1024 // 512KB = 2^19
)

var (
	// ErrOutOfMemory is returned when the heap cannot grow any further.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrInvalidSize is returned for sizes outside (0, MaxSize].
	ErrInvalidSize = errors.New("malloc: invalid size")

	// ErrInvalidFree is returned when an address was not returned by Malloc
	// or was already freed.
	ErrInvalidFree = errors.New("malloc: invalid free")
)

// Memory maps heap addresses to bytes.
type Memory interface {
	Bytes(addr uintptr, n int) ([]byte, bool)
}

// Heap is a buddy allocator whose arena grows through sbrk.
//
// Each time no free block is left, the heap asks its brk.Grower for one more
// root block of maxBlockSize bytes. Roots are placed at multiples of
// maxBlockSize from the first root, so buddy offsets stay valid across roots
// that are not adjacent.
type Heap struct {
	mem Memory
	brk brk.Grower
	log *slog.Logger

	// base is the address of the first root; offsets are relative to it.
	base  uintptr
	roots []int // root offsets, ascending

	// freeLists holds slices of free block offsets for each order.
	// freeLists[0] is for minBlockSize blocks (order 0).
	// freeLists[maxBlockOrder] is for maxBlockSize blocks (the largest).
	freeLists [][]int

	// needsCoalesce is a hint that adjacent free blocks may exist that can be merged.
	// Set to true on Free() of non-max-order blocks, cleared when coalescing fails.
	needsCoalesce bool

	minBlockSize  int
	minBlockShift int
	maxBlockSize  int
	maxBlockOrder int
}

// NewHeap creates a heap over mem that grows through g. Nothing is requested
// from g until the first Malloc.
func NewHeap(mem Memory, g brk.Grower, opts ...Option) (*Heap, error) {
	o := options{
		minBlock: DefaultMinBlockSize,
		maxBlock: DefaultMaxBlockSize,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	minBlock, maxBlock := o.minBlock, o.maxBlock

	// Validate block sizes are powers of two
	if minBlock <= 0 || (minBlock&(minBlock-1)) != 0 {
		return nil, fmt.Errorf("minBlockSize must be a power of two, got %d", minBlock)
	}
	if maxBlock <= 0 || (maxBlock&(maxBlock-1)) != 0 {
		return nil, fmt.Errorf("maxBlockSize must be a power of two, got %d", maxBlock)
	}
	if minBlock > maxBlock {
		return nil, fmt.Errorf("minBlockSize (%d) must be <= maxBlockSize (%d)", minBlock, maxBlock)
	}
	if minBlock <= headerSize {
		return nil, fmt.Errorf("minBlockSize must be > headerSize (%d), got %d", headerSize, minBlock)
	}
	if mem == nil || g == nil {
		return nil, errors.New("memory and grower must not be nil")
	}

	minShift := bits.TrailingZeros(uint(minBlock))
	maxShift := bits.TrailingZeros(uint(maxBlock))
	maxOrder := maxShift - minShift

	h := &Heap{
		mem:           mem,
		brk:           g,
		log:           o.log,
		minBlockSize:  minBlock,
		minBlockShift: minShift,
		maxBlockSize:  maxBlock,
		maxBlockOrder: maxOrder,
		freeLists:     make([][]int, maxOrder+1),
	}
	// Lower orders can hold more blocks (each split doubles the count),
	// so capacity = 2^(maxOrder-i). Capped at 64 to avoid over-allocation.
	for i := 0; i < maxOrder; i++ {
		capacity := 1 << (maxOrder - i)
		if capacity > 64 {
			capacity = 64
		}
		h.freeLists[i] = make([]int, 0, capacity)
	}
	return h, nil
}

// MaxSize returns the largest size Malloc accepts.
func (h *Heap) MaxSize() int {
	return h.maxBlockSize - headerSize
}

// Malloc allocates size bytes and returns the address of the first one.
// The heap grows by one root block when nothing fits; if the grower is out
// of memory the error matches ErrOutOfMemory.
func (h *Heap) Malloc(size int) (uintptr, error) {
	if size <= 0 || size > h.MaxSize() {
		return 0, fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidSize, size, h.MaxSize())
	}
	order := h.getOrderForSize(size + headerSize)

	offset, ok := h.take(order)
	if !ok {
		if err := h.grow(); err != nil {
			h.log.Warn("heap exhausted", logger.Size(size), logger.Error(err))
			return 0, err
		}
		// a fresh root always fits
		offset, _ = h.take(order)
	}
	return h.place(offset, size)
}

// take pops a free block of the given order, splitting or coalescing larger
// blocks as needed.
func (h *Heap) take(order int) (int, bool) {
	// Fast path: exact order match
	if freeList := h.freeLists[order]; len(freeList) > 0 {
		n := len(freeList) - 1
		offset := freeList[n]
		h.freeLists[order] = freeList[:n]
		return offset, true
	}

	// Find higher order block
	foundOrder := -1
	for o := order + 1; o <= h.maxBlockOrder; o++ {
		if len(h.freeLists[o]) > 0 {
			foundOrder = o
			break
		}
	}

	// No block available - try coalescing
	if foundOrder == -1 {
		if !h.needsCoalesce {
			return 0, false
		}
		foundOrder = h.CoalesceUntil(order)
		if foundOrder == -1 {
			h.needsCoalesce = false
			return 0, false
		}
	}

	freeList := h.freeLists[foundOrder]
	n := len(freeList) - 1
	offset := freeList[n]
	h.freeLists[foundOrder] = freeList[:n]

	// Split until we reach required order.
	// The left half keeps the offset, the right half goes to the lower order.
	for foundOrder > order {
		foundOrder--
		right := offset + (h.minBlockSize << foundOrder)
		h.freeLists[foundOrder] = append(h.freeLists[foundOrder], right)
	}
	return offset, true
}

// grow requests one more root from the grower.
func (h *Heap) grow() error {
	cur, err := h.brk.Sbrk(0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	if len(h.roots) == 0 {
		h.base = cur
	}
	if cur < h.base {
		return fmt.Errorf("%w: break %#x moved below heap base %#x", ErrOutOfMemory, cur, h.base)
	}

	// pad so the new root lands on a maxBlockSize boundary from base
	pad := int((uintptr(h.maxBlockSize) - (cur-h.base)%uintptr(h.maxBlockSize)) % uintptr(h.maxBlockSize))
	prev, err := h.brk.Sbrk(pad + h.maxBlockSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	if prev != cur {
		// Someone else moved the break in between; the range is lost.
		return fmt.Errorf("%w: break moved from %#x to %#x while growing", ErrOutOfMemory, cur, prev)
	}

	root := prev + uintptr(pad)
	// Backing is only known after Sbrk: wasm memory grows inside it. An
	// unbacked range stays claimed, the grower may be shared with others.
	if _, ok := h.mem.Bytes(root, h.maxBlockSize); !ok {
		return fmt.Errorf("%w: root %#x not backed by memory", ErrOutOfMemory, root)
	}
	offset := int(root - h.base)
	h.roots = append(h.roots, offset)
	h.freeLists[h.maxBlockOrder] = append(h.freeLists[h.maxBlockOrder], offset)

	h.log.Debug("heap grown", logger.Addr("root", root), slog.Int("roots", len(h.roots)), slog.Int("pad", pad))
	return nil
}

func (h *Heap) place(offset, size int) (uintptr, error) {
	addr := h.base + uintptr(offset)
	hdr, ok := h.mem.Bytes(addr, headerSize)
	if !ok {
		return 0, fmt.Errorf("%w: block %#x not backed by memory", ErrOutOfMemory, addr)
	}
	// Write header: [4 bytes magic][4 bytes size]
	binary.LittleEndian.PutUint32(hdr, magic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(size))
	return addr + headerSize, nil
}

// header returns the block offset and header view of an allocated address.
func (h *Heap) header(addr uintptr) (int, []byte, error) {
	if len(h.roots) == 0 || addr < h.base+headerSize {
		return 0, nil, fmt.Errorf("%w: %#x not in heap", ErrInvalidFree, addr)
	}
	offset := int(addr - h.base - headerSize)
	if !h.inRoot(offset) {
		return 0, nil, fmt.Errorf("%w: %#x not in heap", ErrInvalidFree, addr)
	}
	if offset&(h.minBlockSize-1) != 0 {
		return 0, nil, fmt.Errorf("%w: %#x misaligned", ErrInvalidFree, addr)
	}
	hdr, ok := h.mem.Bytes(addr-headerSize, headerSize)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %#x not backed by memory", ErrInvalidFree, addr)
	}
	if binary.LittleEndian.Uint32(hdr) != magic {
		return 0, nil, fmt.Errorf("%w: double free or invalid block %#x", ErrInvalidFree, addr)
	}
	if size := binary.LittleEndian.Uint32(hdr[4:]); size == 0 || int64(size) > int64(h.MaxSize()) {
		return 0, nil, fmt.Errorf("%w: corrupted size %d in block %#x", ErrInvalidFree, size, addr)
	}
	return offset, hdr, nil
}

func (h *Heap) inRoot(offset int) bool {
	root := offset &^ (h.maxBlockSize - 1)
	i := sort.SearchInts(h.roots, root)
	return i < len(h.roots) && h.roots[i] == root
}

// Free returns the block at addr to the heap. Memory is never given back to
// the grower; freed blocks are merged lazily when a larger block is needed.
func (h *Heap) Free(addr uintptr) error {
	offset, hdr, err := h.header(addr)
	if err != nil {
		return err
	}
	storedSize := int(binary.LittleEndian.Uint32(hdr[4:]))
	order := h.getOrderForSize(storedSize + headerSize)
	blockSize := h.minBlockSize << order
	// Buddy blocks of size 2^N must start at an offset that is a multiple of 2^N.
	if offset&(blockSize-1) != 0 {
		return fmt.Errorf("%w: %#x misaligned for %d byte block", ErrInvalidFree, addr, blockSize)
	}

	binary.LittleEndian.PutUint32(hdr, 0)
	h.freeLists[order] = append(h.freeLists[order], offset)
	if order < h.maxBlockOrder {
		h.needsCoalesce = true
	}
	return nil
}

// Size returns the size requested for the block at addr.
func (h *Heap) Size(addr uintptr) (int, error) {
	_, hdr, err := h.header(addr)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(hdr[4:])), nil
}

// UsableSize returns how many bytes the block at addr can hold.
func (h *Heap) UsableSize(addr uintptr) (int, error) {
	size, err := h.Size(addr)
	if err != nil {
		return 0, err
	}
	return (h.minBlockSize << h.getOrderForSize(size+headerSize)) - headerSize, nil
}

// Bytes returns a view of the block at addr, of the size it was allocated with.
func (h *Heap) Bytes(addr uintptr) ([]byte, error) {
	size, err := h.Size(addr)
	if err != nil {
		return nil, err
	}
	b, ok := h.mem.Bytes(addr, size)
	if !ok {
		return nil, fmt.Errorf("%w: %#x not backed by memory", ErrInvalidFree, addr)
	}
	return b, nil
}

// Calloc allocates n*size zeroed bytes.
func (h *Heap) Calloc(n, size int) (uintptr, error) {
	if n <= 0 || size <= 0 {
		return 0, fmt.Errorf("%w: calloc(%d, %d)", ErrInvalidSize, n, size)
	}
	hi, total := bits.Mul(uint(n), uint(size))
	if hi != 0 || total > uint(h.MaxSize()) {
		return 0, fmt.Errorf("%w: calloc(%d, %d) too large", ErrInvalidSize, n, size)
	}
	addr, err := h.Malloc(int(total))
	if err != nil {
		return 0, err
	}
	b, err := h.Bytes(addr)
	if err != nil {
		return 0, err
	}
	clear(b)
	return addr, nil
}

// Realloc resizes the block at addr. A zero addr behaves like Malloc.
// Shrinking always stays in place and frees the unused part of the block;
// growing past the block order copies the contents to a new block and
// frees the old one. On error the old block is left untouched.
func (h *Heap) Realloc(addr uintptr, size int) (uintptr, error) {
	if addr == 0 {
		return h.Malloc(size)
	}
	if size <= 0 || size > h.MaxSize() {
		return 0, fmt.Errorf("%w: %d not in (0, %d]", ErrInvalidSize, size, h.MaxSize())
	}
	offset, hdr, err := h.header(addr)
	if err != nil {
		return 0, err
	}
	oldSize := int(binary.LittleEndian.Uint32(hdr[4:]))
	oldOrder := h.getOrderForSize(oldSize + headerSize)
	if order := h.getOrderForSize(size + headerSize); order <= oldOrder {
		// shrink in place, handing the unused right halves back
		for o := oldOrder - 1; o >= order; o-- {
			h.freeLists[o] = append(h.freeLists[o], offset+(h.minBlockSize<<o))
			h.needsCoalesce = true
		}
		binary.LittleEndian.PutUint32(hdr[4:], uint32(size))
		return addr, nil
	}

	naddr, err := h.Malloc(size)
	if err != nil {
		return 0, err
	}
	src, ok := h.mem.Bytes(addr, min(oldSize, size))
	if !ok {
		return 0, fmt.Errorf("%w: %#x not backed by memory", ErrInvalidFree, addr)
	}
	dst, ok := h.mem.Bytes(naddr, size)
	if !ok {
		return 0, fmt.Errorf("%w: %#x not backed by memory", ErrOutOfMemory, naddr)
	}
	copy(dst, src)
	if err := h.Free(addr); err != nil {
		return 0, err
	}
	return naddr, nil
}

// Available returns the total free bytes available for allocation without
// growing the heap.
func (h *Heap) Available() int {
	total := 0
	for order, freeList := range h.freeLists {
		blockSize := h.minBlockSize << order
		total += len(freeList) * (blockSize - headerSize)
	}
	return total
}

// Roots returns the number of root blocks obtained from the grower.
func (h *Heap) Roots() int {
	return len(h.roots)
}

// Base returns the address of the first root, or 0 before the first Malloc.
func (h *Heap) Base() uintptr {
	return h.base
}

// CoalesceUntil merges adjacent free buddy blocks until we have a block >= targetOrder.
// Returns the order of a suitable block found, or -1 if none available.
func (h *Heap) CoalesceUntil(targetOrder int) int {
	for o := targetOrder; o <= h.maxBlockOrder; o++ {
		if len(h.freeLists[o]) > 0 {
			return o
		}
	}

	// Coalesce from order 0 up to targetOrder-1.
	// Merging at lower orders creates blocks that can be merged at higher orders.
	for order := 0; order < targetOrder; order++ {
		freeList := h.freeLists[order]
		listLen := len(freeList)
		if listLen < 2 {
			continue
		}

		// Sort so buddies are adjacent (they differ by exactly blockSize).
		sort.Ints(freeList)

		blockSize := h.minBlockSize << order
		n := 0 // write index for remaining blocks

		for i := 0; i < listLen; {
			offset := freeList[i]
			// When sorted, the right buddy of a left block directly follows it.
			if i+1 < listLen && offset&blockSize == 0 && freeList[i+1] == offset^blockSize {
				h.freeLists[order+1] = append(h.freeLists[order+1], offset)
				i += 2
			} else {
				freeList[n] = offset
				n++
				i++
			}
		}
		h.freeLists[order] = freeList[:n]
	}

	for o := targetOrder; o <= h.maxBlockOrder; o++ {
		if len(h.freeLists[o]) > 0 {
			return o
		}
	}
	return -1
}

// Reset forgets every allocation. The roots obtained so far stay with the
// heap and become free max-order blocks again.
func (h *Heap) Reset() {
	for i := 0; i < h.maxBlockOrder; i++ {
		h.freeLists[i] = h.freeLists[i][:0]
	}
	h.freeLists[h.maxBlockOrder] = append(h.freeLists[h.maxBlockOrder][:0], h.roots...)
	h.needsCoalesce = false
}

// getOrderForSize calculates the smallest order that can fit the given size.
// It uses bits.Len to find the smallest power of two that satisfies the request.
func (h *Heap) getOrderForSize(size int) int {
	if size <= h.minBlockSize {
		return 0
	}
	return bits.Len(uint(size-1)) - h.minBlockShift
}
