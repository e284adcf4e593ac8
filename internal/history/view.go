package history

import "time"

// View 为单个合约的只读历史视图，指标计算只通过它读取历史。
type View struct {
	store      *Store
	instrument string
}

// Instrument 返回视图绑定的合约。
func (v View) Instrument() string {
	return v.instrument
}

// ValueAt 见 Store.ValueAt。
func (v View) ValueAt(kind Kind, at time.Time, ago time.Duration) (Sample, bool) {
	if v.store == nil {
		return Sample{}, false
	}
	return v.store.ValueAt(v.instrument, kind, at, ago)
}

// FundingDynamics 见 Store.FundingDynamics。
func (v View) FundingDynamics(at time.Time) FundingDynamics {
	if v.store == nil {
		return FundingDynamics{}
	}
	return v.store.FundingDynamics(v.instrument, at)
}

// OIChanges 见 Store.OIChanges。
func (v View) OIChanges(at time.Time) OIChanges {
	if v.store == nil {
		return OIChanges{}
	}
	return v.store.OIChanges(v.instrument, at)
}

// MeanStep 见 Store.MeanStep。
func (v View) MeanStep(kind Kind, at time.Time, n int) Reading {
	if v.store == nil {
		return Unknown()
	}
	return v.store.MeanStep(v.instrument, kind, at, n)
}
