package heal

import "sync/atomic"

// Policy records applied actions with per-action atomic counters.
type Policy struct {
	totalHeals       atomic.Uint64
	sizeClamps       atomic.Uint64
	nullTruncations  atomic.Uint64
	doubleFrees      atomic.Uint64
	foreignFrees     atomic.Uint64
	reallocAsMallocs atomic.Uint64
	safeDefaults     atomic.Uint64
	variantUpgrades  atomic.Uint64
}

// NewPolicy creates a policy with zeroed counters.
func NewPolicy() *Policy {
	return &Policy{}
}

// Record counts one applied action.
func (p *Policy) Record(a Applied) {
	if a.IsHeal() {
		p.totalHeals.Add(1)
	}

	switch a.Action {
	case ActionClampSize:
		p.sizeClamps.Add(1)
	case ActionTruncateWithNull:
		p.nullTruncations.Add(1)
	case ActionIgnoreDoubleFree:
		p.doubleFrees.Add(1)
	case ActionIgnoreForeignFree:
		p.foreignFrees.Add(1)
	case ActionReallocAsMalloc:
		p.reallocAsMallocs.Add(1)
	case ActionReturnSafeDefault:
		p.safeDefaults.Add(1)
	case ActionUpgradeToSafeVariant:
		p.variantUpgrades.Add(1)
	case ActionNone:
	}
}

// Stats is a snapshot of the policy counters.
type Stats struct {
	TotalHeals       uint64 `json:"total_heals"`
	SizeClamps       uint64 `json:"size_clamps"`
	NullTruncations  uint64 `json:"null_truncations"`
	DoubleFrees      uint64 `json:"double_frees"`
	ForeignFrees     uint64 `json:"foreign_frees"`
	ReallocAsMallocs uint64 `json:"realloc_as_mallocs"`
	SafeDefaults     uint64 `json:"safe_defaults"`
	VariantUpgrades  uint64 `json:"variant_upgrades"`
}

// Stats returns the current counter values.
func (p *Policy) Stats() Stats {
	return Stats{
		TotalHeals:       p.totalHeals.Load(),
		SizeClamps:       p.sizeClamps.Load(),
		NullTruncations:  p.nullTruncations.Load(),
		DoubleFrees:      p.doubleFrees.Load(),
		ForeignFrees:     p.foreignFrees.Load(),
		ReallocAsMallocs: p.reallocAsMallocs.Load(),
		SafeDefaults:     p.safeDefaults.Load(),
		VariantUpgrades:  p.variantUpgrades.Load(),
	}
}
