// Package pool provides buffer pooling to reduce allocations on the
// extraction and mining hot paths.
//
// Pooled objects:
// - Byte buffers (badger key encoding during image flush)
// - Component id slices (metric bin flush)
// - Image index slices (rule antecedent formulas)
//
// Usage:
//
//	key := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(key)
//
//	key = append(key, prefix...)
package pool

import (
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the capacity of slices kept in each pool
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 4096,
}

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	globalConfig = config

	// Reinitialize pools to ensure New functions are set correctly
	initPools()
}

// initPools reinitializes all pools with their New functions.
func initPools() {
	byteBufferPool = sync.Pool{
		New: func() any {
			return make([]byte, 0, 64)
		},
	}
	uint64SlicePool = sync.Pool{
		New: func() any {
			return make([]uint64, 0, 64)
		},
	}
	intSlicePool = sync.Pool{
		New: func() any {
			return make([]int, 0, 16)
		},
	}
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

// =============================================================================
// Byte Buffer Pool
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 64)
	},
}

// GetByteBuffer returns a byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 64)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > 64*1024 { // Don't pool huge buffers
		return
	}
	byteBufferPool.Put(buf[:0])
}

// =============================================================================
// Uint64 Slice Pool (component ids)
// =============================================================================

var uint64SlicePool = sync.Pool{
	New: func() any {
		return make([]uint64, 0, 64)
	},
}

// GetUint64Slice returns an empty uint64 slice from the pool.
func GetUint64Slice() []uint64 {
	if !globalConfig.Enabled {
		return make([]uint64, 0, 64)
	}
	return uint64SlicePool.Get().([]uint64)[:0]
}

// PutUint64Slice returns a uint64 slice to the pool.
func PutUint64Slice(s []uint64) {
	if !globalConfig.Enabled {
		return
	}
	if cap(s) > globalConfig.MaxSize {
		return
	}
	uint64SlicePool.Put(s[:0])
}

// =============================================================================
// Int Slice Pool (antecedent formulas)
// =============================================================================

var intSlicePool = sync.Pool{
	New: func() any {
		return make([]int, 0, 16)
	},
}

// GetIntSlice returns an empty int slice from the pool.
func GetIntSlice() []int {
	if !globalConfig.Enabled {
		return make([]int, 0, 16)
	}
	return intSlicePool.Get().([]int)[:0]
}

// PutIntSlice returns an int slice to the pool.
func PutIntSlice(s []int) {
	if !globalConfig.Enabled || s == nil {
		return
	}
	if cap(s) > globalConfig.MaxSize {
		return
	}
	intSlicePool.Put(s[:0])
}
