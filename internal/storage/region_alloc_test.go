package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberdb/ember/internal/errors"
)

func TestAllocatorCreate(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 0, a.RegionCount())
	require.NoError(t, a.Destroy())

	_, err = NewRegionAllocator(0, 128)
	assert.Error(t, err)
	_, err = NewRegionAllocator(4096, 0)
	assert.Error(t, err)
}

func TestAllocatorOnePage(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(1000)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Len(t, p.Data, 1000)
	assert.Equal(t, 1, a.RegionCount())
	assert.Equal(t, byte(0xfe), a.RegionMap(0))

	require.NoError(t, a.FreePage(p))
	assert.Equal(t, 0, a.RegionCount())
	assert.Equal(t, byte(0xff), a.RegionMap(0))

	require.NoError(t, a.Destroy())
}

func TestAllocatorTwoPages(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p1, err := a.AllocPage(400)
	require.NoError(t, err)
	p2, err := a.AllocPage(100000)
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)

	require.NoError(t, a.FreePage(p1))
	require.NoError(t, a.FreePage(p2))
	assert.Equal(t, 0, a.RegionCount())
	require.NoError(t, a.Destroy())
}

func TestAllocatorSpill(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(3000)
	require.NoError(t, err)
	require.Equal(t, 1, a.RegionCount())

	// The home region has no room left; the allocation spills into a
	// freshly added region and the region count grows by exactly one.
	mem, err := a.Zalloc(8192, p)
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Len(t, mem, 8192)
	assert.Equal(t, 2, a.RegionCount())

	// Spill memory is zeroed.
	for _, b := range mem {
		require.Zero(t, b)
	}

	// Freeing the page releases the spill region with it.
	require.NoError(t, a.FreePage(p))
	assert.Equal(t, 0, a.RegionCount())
	require.NoError(t, a.Destroy())
}

func TestAllocatorGiantSpill(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(128 * 1024)
	require.NoError(t, err)

	mem, err := a.Zalloc(2*4096, p)
	require.NoError(t, err)
	require.NotNil(t, mem)

	require.NoError(t, a.FreePage(p))
	require.NoError(t, a.Destroy())
}

func TestAllocatorZeroAlloc(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(200)
	require.NoError(t, err)

	mem, err := a.Zalloc(0, p)
	require.NoError(t, err)
	assert.Nil(t, mem)

	require.NoError(t, a.FreePage(p))
	require.NoError(t, a.Destroy())
}

func TestAllocatorSlotBitmap(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	var pages []*Page
	for i := 0; i < RegionSlots; i++ {
		p, err := a.AllocPage(16)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	assert.Equal(t, byte(0x00), a.RegionMap(0))
	assert.Equal(t, 1, a.RegionCount())

	// A ninth page needs a second region.
	p, err := a.AllocPage(16)
	require.NoError(t, err)
	assert.Equal(t, 2, a.RegionCount())
	assert.Equal(t, byte(0xfe), a.RegionMap(1))

	require.NoError(t, a.FreePage(p))
	for _, p := range pages {
		require.NoError(t, a.FreePage(p))
	}
	assert.Equal(t, 0, a.RegionCount())
	require.NoError(t, a.Destroy())
}

func TestAllocatorOutOfCapacity(t *testing.T) {
	a, err := NewRegionAllocator(256, 1)
	require.NoError(t, err)

	var pages []*Page
	for i := 0; i < RegionSlots; i++ {
		p, err := a.AllocPage(8)
		require.NoError(t, err)
		pages = append(pages, p)
	}

	_, err = a.AllocPage(8)
	assert.True(t, errors.IsCode(err, errors.CodeNoSpace))

	// Spill needs a second region too.
	_, err = a.Zalloc(1024, pages[0])
	assert.True(t, errors.IsCode(err, errors.CodeNoSpace))

	for _, p := range pages {
		require.NoError(t, a.FreePage(p))
	}
	require.NoError(t, a.Destroy())
}

func TestAllocatorDestroyOutstanding(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(100)
	require.NoError(t, err)

	assert.Error(t, a.Destroy(), "destroy with an outstanding page")

	require.NoError(t, a.FreePage(p))
	require.NoError(t, a.Destroy())
}

func TestAllocatorDoubleFree(t *testing.T) {
	a, err := NewRegionAllocator(4096, 128)
	require.NoError(t, err)

	p, err := a.AllocPage(100)
	require.NoError(t, err)
	require.NoError(t, a.FreePage(p))
	assert.Error(t, a.FreePage(p))
	require.NoError(t, a.Destroy())
}
