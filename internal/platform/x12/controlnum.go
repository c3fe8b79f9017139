package x12

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
)

// MaxControlNumber is the largest value that fits in ISA13.
const MaxControlNumber = 999999999

// ControlNumbers hands out envelope control numbers.
type ControlNumbers interface {
	Next() (int64, error)
}

// RandomControlNumbers produces random nine-digit control numbers.
type RandomControlNumbers struct{}

func (RandomControlNumbers) Next() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(MaxControlNumber-100000000+1))
	if err != nil {
		return 0, fmt.Errorf("x12: generating control number: %w", err)
	}
	return n.Int64() + 100000000, nil
}

// Sequence produces increasing control numbers, wrapping back to 1 after
// MaxControlNumber.
type Sequence struct {
	last atomic.Int64
}

// NewSequence returns a sequence whose first value is start.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.last.Store(start - 1)
	return s
}

func (s *Sequence) Next() (int64, error) {
	for {
		cur := s.last.Load()
		next := cur + 1
		if next > MaxControlNumber || next < 1 {
			next = 1
		}
		if s.last.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}
