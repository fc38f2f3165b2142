// Package feedata caches the latest fee tiers observed on the network.
//
// Readers take a consistent snapshot; writers only replace the snapshot when
// its contents actually differ, so the version counter moves on real changes
// only.
package feedata

import (
	"math/big"
	"sync"
	"time"
)

type FeeTier struct {
	MaxFeePerGas         *big.Int `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas"`
}

func (t FeeTier) Equal(o FeeTier) bool {
	return bigEqual(t.MaxFeePerGas, o.MaxFeePerGas) && bigEqual(t.MaxPriorityFeePerGas, o.MaxPriorityFeePerGas)
}

func (t FeeTier) clone() FeeTier {
	return FeeTier{MaxFeePerGas: cloneBig(t.MaxFeePerGas), MaxPriorityFeePerGas: cloneBig(t.MaxPriorityFeePerGas)}
}

// FeeData is the fee snapshot for one network.
type FeeData struct {
	BaseFee *big.Int `json:"baseFee"`
	Slow    FeeTier  `json:"slow"`
	Normal  FeeTier  `json:"normal"`
	Fast    FeeTier  `json:"fast"`
}

// Equal compares field by field. Nil and missing values are equal to each
// other and to nothing else.
func (d FeeData) Equal(o FeeData) bool {
	return bigEqual(d.BaseFee, o.BaseFee) &&
		d.Slow.Equal(o.Slow) &&
		d.Normal.Equal(o.Normal) &&
		d.Fast.Equal(o.Fast)
}

func (d FeeData) Clone() FeeData {
	return FeeData{
		BaseFee: cloneBig(d.BaseFee),
		Slow:    d.Slow.clone(),
		Normal:  d.Normal.clone(),
		Fast:    d.Fast.clone(),
	}
}

type Store struct {
	mu        sync.RWMutex
	data      FeeData
	version   uint64
	updatedAt time.Time
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set stores d if it differs from the current snapshot and reports whether
// it did.
func (s *Store) Set(d FeeData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version > 0 && s.data.Equal(d) {
		return false
	}
	s.data = d.Clone()
	s.version++
	s.updatedAt = s.now()
	return true
}

// Get returns a copy of the snapshot and false when nothing was stored yet.
func (s *Store) Get() (FeeData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.version == 0 {
		return FeeData{}, false
	}
	return s.data.Clone(), true
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
