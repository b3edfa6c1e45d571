package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-minivsfs/common"
)

func TestPopCnt(t *testing.T) {
	assert.Equal(t, uint64(0), popCnt(0))
	assert.Equal(t, uint64(1), popCnt(1))
	assert.Equal(t, uint64(1), popCnt(2))
	assert.Equal(t, uint64(2), popCnt(3))
	assert.Equal(t, uint64(8), popCnt(255))
}

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	max := uint64(32)
	a := MkMaxAlloc(max, 1)
	assert.Equal(int(common.NBITBLOCK/8), len(a.Bytes()), "bitmap is whole blocks")

	assert.Equal(max, a.NumFree(), "everything should be initially free")

	n, err := a.AllocNum()
	assert.NoError(err)
	assert.Equal(uint64(1), n, "search starts at first")

	assert.NoError(a.MarkUsed(n + 1))
	n2, err := a.AllocNum()
	assert.NoError(err)
	assert.Equal(uint64(3), n2, "should not allocate something marked used")

	assert.Equal(max-3, a.NumFree(), "should have used 3 items")
	assert.Equal(uint64(3), a.NumUsed())
	assert.False(a.IsUsed(0), "numbers below first are left alone")
}

func TestMarkIdempotent(t *testing.T) {
	assert := assert.New(t)
	a := MkMaxAlloc(16, 0)
	assert.NoError(a.MarkUsed(9))
	assert.NoError(a.MarkUsed(9))
	assert.Equal(uint64(1), a.NumUsed())
	assert.Equal(byte(1<<1), a.Bytes()[1])
}

func TestMarkBeyondCapacity(t *testing.T) {
	a := MkMaxAlloc(10, 0)
	assert.Error(t, a.MarkUsed(10))
	assert.True(t, a.TrailingClear())
}

func TestExhausted(t *testing.T) {
	assert := assert.New(t)
	a := MkMaxAlloc(10, 0)
	for i := uint64(0); i < 10; i++ {
		n, err := a.AllocNum()
		assert.NoError(err)
		assert.Equal(i, n, "first fit hands out numbers in order")
	}
	_, err := a.AllocNum()
	assert.Equal(ErrExhausted, err)
	assert.Equal(uint64(0), a.NumFree())
	assert.True(a.TrailingClear(), "bits past capacity stay zero")
}

func TestLastBitAllocatable(t *testing.T) {
	assert := assert.New(t)
	a := MkMaxAlloc(8, 1)
	for i := uint64(1); i < 7; i++ {
		assert.NoError(a.MarkUsed(i))
	}
	n, err := a.AllocNum()
	assert.NoError(err)
	assert.Equal(uint64(7), n)
}

func TestFindFreeSkipsFullBytes(t *testing.T) {
	assert := assert.New(t)
	bm := make([]byte, 4)
	bm[0] = 0xFF
	bm[1] = 0xFF
	bm[2] = 0x0F
	a, err := MkAlloc(bm, 32, 0)
	assert.NoError(err)

	n, err := a.FindFree(0)
	assert.NoError(err)
	assert.Equal(uint64(20), n)
	assert.False(a.IsUsed(20), "FindFree does not mark")

	n, err = a.FindFree(3)
	assert.NoError(err)
	assert.Equal(uint64(20), n)

	_, err = a.FindFree(32)
	assert.Equal(ErrExhausted, err)
}

func TestMkAllocTooSmall(t *testing.T) {
	_, err := MkAlloc(make([]byte, 1), 9, 0)
	assert.Error(t, err)
}

func TestTrailingClear(t *testing.T) {
	bm := make([]byte, 2)
	a, _ := MkAlloc(bm, 12, 0)
	assert.True(t, a.TrailingClear())
	bm[1] = 1 << 5 // bit 13
	assert.False(t, a.TrailingClear())
	assert.Equal(t, uint64(0), a.NumUsed(), "bits past max are not counted")
}
