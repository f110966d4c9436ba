package telemetry

import "sync/atomic"

// ExtraTracker derives "extra module present" from main unit model.
// Only falling edge is reported.
type ExtraTracker struct {
	has     ExtraFunc
	present uint32
}

func NewExtraTracker(has ExtraFunc) *ExtraTracker {
	return &ExtraTracker{has: has}
}

// Observe returns true when presence changed from true to false.
func (self *ExtraTracker) Observe(s *Snapshot) (lost bool) {
	now := self.has != nil && self.has(s.Model)
	var v uint32
	if now {
		v = 1
	}
	old := atomic.SwapUint32(&self.present, v)
	return old == 1 && !now
}

// Reset forgets presence silently, used on disconnect.
func (self *ExtraTracker) Reset() { atomic.StoreUint32(&self.present, 0) }

func (self *ExtraTracker) Present() bool { return atomic.LoadUint32(&self.present) == 1 }

// ExtraModels builds ExtraFunc from explicit list of model ids.
func ExtraModels(models ...int) ExtraFunc {
	set := make(map[int]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	return func(model int) bool {
		_, ok := set[model]
		return ok
	}
}
