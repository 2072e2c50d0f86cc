package storage

import (
	"sync"

	"github.com/emberdb/ember/internal/errors"
)

const (
	// RegionSlots is the number of page slots carved from each region;
	// one bitmap byte tracks a region's slots (bit set = slot free).
	RegionSlots = 8

	// DefaultRegionSize is the byte size of a region arena.
	DefaultRegionSize = 32 * 1024 * 1024

	// DefaultRegionCount is the default maximum number of regions.
	DefaultRegionCount = 128
)

// ErrNoSpace is returned when the allocator cannot add a region.
var ErrNoSpace = errors.New(errors.CodeNoSpace, "region allocator out of capacity")

// Page is a fixed slot in a region plus the page's data allocation. Spill
// allocations made on behalf of the page live until the page is freed.
type Page struct {
	Data []byte // Page memory

	Header PageHeader // Decoded page header, set by the pager

	region int // Home region index
	slot   int // Slot index within the home region

	// Regions added solely to satisfy this page's allocations; released
	// with the page.
	spill []int
}

// region is a contiguous arena carved into page slots plus bump-allocated
// data space.
type region struct {
	mu    sync.Mutex
	arena []byte
	used  int

	// Index of the region that spilled into this one; -1 for slotted
	// regions carrying pages of their own.
	spillFor int
}

func (r *region) alloc(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used+n > len(r.arena) {
		return nil
	}
	p := r.arena[r.used : r.used+n : r.used+n]
	r.used += n
	return p
}

// RegionAllocator owns page memory: fixed page slots carved from regions,
// with per-page spill allocations tied to the owning page's lifetime.
type RegionAllocator struct {
	mu         sync.Mutex
	regionSize int
	maxRegions int

	// regions[i] is nil when the region is released; regionMap[i] is the
	// slot bitmap for region i and reads 0xff once the region is empty.
	regions   []*region
	regionMap []byte

	livePages int
}

// NewRegionAllocator constructs an allocator with the given region byte
// size and maximum region count.
func NewRegionAllocator(regionSize, regionCount int) (*RegionAllocator, error) {
	if regionSize <= 0 || regionCount <= 0 {
		return nil, errors.Newf(errors.CodeInvalidArgument,
			"invalid region geometry: size %d, count %d", regionSize, regionCount)
	}
	a := &RegionAllocator{
		regionSize: regionSize,
		maxRegions: regionCount,
		regions:    make([]*region, regionCount),
		regionMap:  make([]byte, regionCount),
	}
	for i := range a.regionMap {
		a.regionMap[i] = 0xff
	}
	return a, nil
}

// RegionCount returns the number of live regions.
func (a *RegionAllocator) RegionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, r := range a.regions {
		if r != nil {
			n++
		}
	}
	return n
}

// RegionMap returns the slot bitmap byte for region i.
func (a *RegionAllocator) RegionMap(i int) byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regionMap[i]
}

// addRegion appends a region at the first free index. Caller holds a.mu.
func (a *RegionAllocator) addRegion(size int, spillFor int) (int, *region, error) {
	for i, r := range a.regions {
		if r == nil {
			nr := &region{arena: make([]byte, size), spillFor: spillFor}
			a.regions[i] = nr
			if spillFor >= 0 {
				// Spill regions carry no slots of their own.
				a.regionMap[i] = 0x00
			}
			return i, nr, nil
		}
	}
	return 0, nil, ErrNoSpace
}

// AllocPage allocates a page of at least size bytes. The page's slot comes
// from the first region with a free slot; its data comes from that
// region's arena, spilling into a fresh region when it does not fit.
func (a *RegionAllocator) AllocPage(size int) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ri, slot := -1, -1
	for i, r := range a.regions {
		if r == nil || r.spillFor >= 0 {
			continue
		}
		if s := freeSlot(a.regionMap[i]); s >= 0 {
			ri, slot = i, s
			break
		}
	}
	if ri < 0 {
		var err error
		ri, _, err = a.addRegion(a.regionSize, -1)
		if err != nil {
			return nil, err
		}
		slot = 0
	}

	a.regionMap[ri] &^= 1 << uint(slot)
	p := &Page{region: ri, slot: slot}

	data := a.regions[ri].alloc(size)
	if data == nil {
		si, sr, err := a.addRegion(max(size, a.regionSize), ri)
		if err != nil {
			// Roll the slot back; never return a partially
			// initialised page.
			a.regionMap[ri] |= 1 << uint(slot)
			a.releaseIfEmptyLocked(ri)
			return nil, err
		}
		data = sr.alloc(size)
		p.spill = append(p.spill, si)
	}
	p.Data = data
	a.livePages++
	return p, nil
}

// Zalloc allocates n zeroed bytes owned by page. A zero-length request
// returns nil without failing. A request that does not fit the remaining
// room of the page's home region spills into a freshly added region; the
// region count grows by exactly one.
func (a *RegionAllocator) Zalloc(n int, page *Page) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if r := a.regions[page.region]; r != nil {
		if p := r.alloc(n); p != nil {
			return p, nil
		}
	}
	si, sr, err := a.addRegion(max(n, a.regionSize), page.region)
	if err != nil {
		return nil, err
	}
	p := sr.alloc(n)
	page.spill = append(page.spill, si)
	return p, nil
}

// FreePage releases the page's slot and every spill allocation it owns. A
// region left with no occupied slots is released immediately.
func (a *RegionAllocator) FreePage(page *Page) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if page == nil || page.Data == nil && page.slot < 0 {
		return errors.New(errors.CodeInvalidArgument, "free of page not owned by allocator")
	}

	for _, si := range page.spill {
		a.regions[si] = nil
		a.regionMap[si] = 0xff
	}
	page.spill = nil

	a.regionMap[page.region] |= 1 << uint(page.slot)
	a.releaseIfEmptyLocked(page.region)

	page.Data = nil
	page.slot = -1
	a.livePages--
	return nil
}

// releaseIfEmptyLocked releases region i when all its slots are free.
func (a *RegionAllocator) releaseIfEmptyLocked(i int) {
	if a.regions[i] != nil && a.regionMap[i] == 0xff {
		a.regions[i] = nil
	}
}

// Destroy releases all regions. It fails if any page is outstanding.
func (a *RegionAllocator) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.livePages != 0 {
		return errors.Newf(errors.CodeInvalidArgument,
			"allocator destroyed with %d outstanding pages", a.livePages)
	}
	for i := range a.regions {
		a.regions[i] = nil
		a.regionMap[i] = 0xff
	}
	return nil
}

// freeSlot returns the lowest set bit of bitmap, or -1 when none.
func freeSlot(bitmap byte) int {
	for s := 0; s < RegionSlots; s++ {
		if bitmap&(1<<uint(s)) != 0 {
			return s
		}
	}
	return -1
}
