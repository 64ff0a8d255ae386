package lir

import (
	"fmt"
	"math"
	"sort"
)

// SwitchClosure receives the compare-and-branch cascade produced by a
// SwitchStrategy. The backend implements it on top of its assembler.
type SwitchClosure interface {
	// ConditionalJump compares the key against Keys()[index] and branches
	// to target when cond holds.
	ConditionalJump(index int, cond Condition, target Label)
	// Jump branches unconditionally.
	Jump(target Label)
	// NewLabel returns a fresh label internal to the switch.
	NewLabel() Label
	// Bind places label at the current position.
	Bind(label Label)
}

// SwitchStrategy decides the order in which switch keys are tested.
type SwitchStrategy interface {
	Keys() []Constant
	// Run drives the closure. keyTargets is parallel to Keys().
	Run(c SwitchClosure, keyTargets []Label, defaultTarget Label)
	String() string
}

func checkSwitchKeys(keys []Constant) error {
	if len(keys) == 0 {
		return fmt.Errorf("lir: switch needs at least one key")
	}
	seen := make(map[uint64]bool, len(keys))
	for _, k := range keys {
		if k.K != keys[0].K {
			return fmt.Errorf("lir: switch keys mix %s and %s", keys[0].K, k.K)
		}
		if seen[k.Bits] {
			return fmt.Errorf("lir: duplicate switch key %s", k)
		}
		seen[k.Bits] = true
	}
	return nil
}

// SequentialStrategy tests keys one by one, most probable first, and falls
// back to the default target.
type SequentialStrategy struct {
	keys  []Constant
	order []int
}

// NewSequentialStrategy orders keys by descending probability. Ties keep the
// key order. probabilities may be nil.
func NewSequentialStrategy(probabilities []float64, keys []Constant) (*SequentialStrategy, error) {
	if err := checkSwitchKeys(keys); err != nil {
		return nil, err
	}
	if probabilities != nil && len(probabilities) != len(keys) {
		return nil, fmt.Errorf("lir: %d probabilities for %d keys", len(probabilities), len(keys))
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	if probabilities != nil {
		sort.SliceStable(order, func(a, b int) bool {
			return probabilities[order[a]] > probabilities[order[b]]
		})
	}
	return &SequentialStrategy{keys: keys, order: order}, nil
}

func (s *SequentialStrategy) Keys() []Constant { return s.keys }

// Order returns the key indexes in test order.
func (s *SequentialStrategy) Order() []int { return s.order }

func (s *SequentialStrategy) Run(c SwitchClosure, keyTargets []Label, defaultTarget Label) {
	checkTargets(s.keys, keyTargets)
	for _, idx := range s.order {
		c.ConditionalJump(idx, EQ, keyTargets[idx])
	}
	c.Jump(defaultTarget)
}

func (s *SequentialStrategy) String() string {
	return fmt.Sprintf("sequential%v", s.keys)
}

// BinaryStrategy builds a balanced decision tree over sorted keys. A leaf
// whose value range has narrowed to exactly its key jumps to the target
// without a compare, so the default jump is emitted only where needed.
type BinaryStrategy struct {
	keys     []Constant
	min, max int64
}

// NewBinaryStrategy requires keys in ascending signed order.
func NewBinaryStrategy(keys []Constant) (*BinaryStrategy, error) {
	if err := checkSwitchKeys(keys); err != nil {
		return nil, err
	}
	for i := 1; i < len(keys); i++ {
		a, _ := keys[i-1].AsIntegral()
		b, _ := keys[i].AsIntegral()
		if a >= b {
			return nil, fmt.Errorf("lir: binary switch keys must ascend: %s then %s", keys[i-1], keys[i])
		}
	}
	s := &BinaryStrategy{keys: keys, min: math.MinInt64, max: math.MaxInt64}
	if keys[0].K == Int32 {
		s.min, s.max = math.MinInt32, math.MaxInt32
	}
	return s, nil
}

func (s *BinaryStrategy) Keys() []Constant { return s.keys }

func (s *BinaryStrategy) Run(c SwitchClosure, keyTargets []Label, defaultTarget Label) {
	checkTargets(s.keys, keyTargets)
	s.recurse(c, keyTargets, defaultTarget, 0, len(s.keys)-1, s.min, s.max)
}

func (s *BinaryStrategy) key(i int) int64 {
	v, _ := s.keys[i].AsIntegral()
	return v
}

// recurse emits the tree for keys[left..right] knowing min <= key <= max.
func (s *BinaryStrategy) recurse(c SwitchClosure, targets []Label, def Label, left, right int, min, max int64) {
	if left == right {
		k := s.key(left)
		if min == k && max == k {
			c.Jump(targets[left])
			return
		}
		c.ConditionalJump(left, EQ, targets[left])
		c.Jump(def)
		return
	}
	mid := (left + right + 1) / 2
	lower := c.NewLabel()
	c.ConditionalJump(mid, LT, lower)
	s.recurse(c, targets, def, mid, right, s.key(mid), max)
	c.Bind(lower)
	s.recurse(c, targets, def, left, mid-1, min, s.key(mid)-1)
}

func (s *BinaryStrategy) String() string {
	return fmt.Sprintf("binary%v", s.keys)
}

func checkTargets(keys []Constant, targets []Label) {
	if len(keys) != len(targets) {
		panic(ShouldNotReachHere("switch has %d keys and %d targets", len(keys), len(targets)))
	}
}
