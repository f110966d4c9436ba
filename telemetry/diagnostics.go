package telemetry

import (
	"sort"
	"sync"
)

// Diagnostics is a copy of latest live snapshots.
// Battery packs are keyed by pack index separately.
type Diagnostics struct {
	Kinds map[Kind]*Snapshot `json:"kinds" yaml:"kinds"`
	Packs map[int]*Snapshot  `json:"packs" yaml:"packs"`
}

func (d Diagnostics) Empty() bool { return len(d.Kinds) == 0 && len(d.Packs) == 0 }

func (d Diagnostics) Get(k Kind) *Snapshot { return d.Kinds[k] }

func (d Diagnostics) Pack(index int) *Snapshot { return d.Packs[index] }

func (d Diagnostics) PackIndexes() []int {
	ixs := make([]int, 0, len(d.Packs))
	for i := range d.Packs {
		ixs = append(ixs, i)
	}
	sort.Ints(ixs)
	return ixs
}

// Map is human oriented view: kind name -> fields, battery_pack -> index -> fields.
func (d Diagnostics) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(d.Kinds)+1)
	for k, s := range d.Kinds {
		m[k.String()] = snapshotView(s)
	}
	if len(d.Packs) != 0 {
		packs := make(map[int]interface{}, len(d.Packs))
		for i, s := range d.Packs {
			packs[i] = snapshotView(s)
		}
		m[KindBatteryPack.String()] = packs
	}
	return m
}

func snapshotView(s *Snapshot) map[string]interface{} {
	v := make(map[string]interface{}, len(s.Fields)+1)
	for name, x := range s.Fields {
		v[name] = x
	}
	if s.Model != 0 {
		v["model"] = s.Model
	}
	if len(s.Fields) == 0 && len(s.Payload) != 0 {
		v["payload"] = s.Payload
	}
	return v
}

// Aggregator owns diagnostics state.
// Single writer (session goroutine), readers get copies.
type Aggregator struct {
	mu    sync.RWMutex
	kinds map[Kind]*Snapshot
	packs map[int]*Snapshot
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		kinds: make(map[Kind]*Snapshot),
		packs: make(map[int]*Snapshot),
	}
}

// Put replaces latest snapshot of its kind, battery pack only of its index.
func (self *Aggregator) Put(s *Snapshot) {
	if s == nil || !s.Kind.Live() {
		return
	}
	self.mu.Lock()
	if s.Kind == KindBatteryPack {
		self.packs[s.Pack] = s
	} else {
		self.kinds[s.Kind] = s
	}
	self.mu.Unlock()
}

func (self *Aggregator) Clear() {
	self.mu.Lock()
	self.kinds = make(map[Kind]*Snapshot)
	self.packs = make(map[int]*Snapshot)
	self.mu.Unlock()
}

func (self *Aggregator) Snapshot() Diagnostics {
	self.mu.RLock()
	defer self.mu.RUnlock()
	d := Diagnostics{
		Kinds: make(map[Kind]*Snapshot, len(self.kinds)),
		Packs: make(map[int]*Snapshot, len(self.packs)),
	}
	for k, s := range self.kinds {
		d.Kinds[k] = s
	}
	for i, s := range self.packs {
		d.Packs[i] = s
	}
	return d
}
