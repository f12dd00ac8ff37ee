package vm

// FrameAllocator supplies physical memory. Both page tables and user pages
// are requested as (PageSize, PageSize). Alloc returns the physical address
// of the block; Dealloc takes back exactly what Alloc returned.
//
// *frame.Allocator implements it.
type FrameAllocator interface {
	Alloc(size, align uintptr) (uintptr, error)
	Dealloc(addr, size, align uintptr)
}

func allocPage(a FrameAllocator) (PhysicalAddr, error) {
	p, err := a.Alloc(PageSize, PageSize)
	if err != nil {
		return 0, err
	}
	pa := PhysicalAddr(p)
	clear(pageAt(pa)[:])
	return pa, nil
}

func freePage(a FrameAllocator, pa PhysicalAddr) {
	a.Dealloc(uintptr(pa), PageSize, PageSize)
}
