// Package store provides rental.Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	agreements map[string]rental.Agreement
	units      map[string]rental.RentalUnit
	unitOrder  []string
	vendors    map[string]rental.Vendor
	records    map[time.Time]rental.MonthlyRevenueRecord
}

var _ rental.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		agreements: make(map[string]rental.Agreement),
		units:      make(map[string]rental.RentalUnit),
		vendors:    make(map[string]rental.Vendor),
		records:    make(map[time.Time]rental.MonthlyRevenueRecord),
	}
}

// =============================================================================
// AGREEMENTS
// =============================================================================

// FindAgreements returns matching agreements ordered by scheduled start, with
// VendorName populated.
func (m *Memory) FindAgreements(_ context.Context, filter rental.AgreementFilter) ([]rental.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rental.Agreement
	for _, a := range m.agreements {
		if !filter.Matches(&a) {
			continue
		}
		result = append(result, m.populateLocked(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ScheduledStart.Equal(result[j].ScheduledStart) {
			return result[i].ID < result[j].ID
		}
		return result[i].ScheduledStart.Before(result[j].ScheduledStart)
	})
	return result, nil
}

func (m *Memory) GetAgreement(_ context.Context, id string) (*rental.Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agreements[id]
	if !ok {
		return nil, nil
	}
	a = m.populateLocked(a)
	return &a, nil
}

func (m *Memory) SaveAgreement(_ context.Context, a rental.Agreement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.VendorName = ""
	a.Lines = append([]rental.ServiceLine(nil), a.Lines...)
	m.agreements[a.ID] = a
	return nil
}

func (m *Memory) populateLocked(a rental.Agreement) rental.Agreement {
	a.Lines = append([]rental.ServiceLine(nil), a.Lines...)
	if v, ok := m.vendors[a.VendorID]; ok {
		a.VendorName = v.Name
	}
	return a
}

// =============================================================================
// UNITS
// =============================================================================

func (m *Memory) FindUnits(_ context.Context, filter rental.UnitFilter) ([]rental.RentalUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rental.RentalUnit
	for _, id := range m.unitOrder {
		u := m.units[id]
		if !filter.Matches(&u) {
			continue
		}
		result = append(result, u)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) CountUnits(_ context.Context, filter rental.UnitFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, u := range m.units {
		if filter.Matches(&u) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetUnit(_ context.Context, id string) (*rental.RentalUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) GetUnits(_ context.Context, ids []string) (map[string]rental.RentalUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]rental.RentalUnit, len(ids))
	for _, id := range ids {
		if u, ok := m.units[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

func (m *Memory) SaveUnit(_ context.Context, u rental.RentalUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.units[u.ID]; !exists {
		m.unitOrder = append(m.unitOrder, u.ID)
	}
	m.units[u.ID] = u
	return nil
}

var errUnknownUnit = errors.New("unknown unit")

func (m *Memory) SetUnitAvailability(_ context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.units[id]
	if !ok {
		return rental.Infra("memory.SetUnitAvailability", errUnknownUnit)
	}
	u.Available = available
	m.units[id] = u
	return nil
}

// =============================================================================
// VENDORS
// =============================================================================

func (m *Memory) GetVendor(_ context.Context, id string) (*rental.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vendors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) SaveVendor(_ context.Context, v rental.Vendor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[v.ID] = v
	return nil
}

// =============================================================================
// REVENUE RECORDS
// =============================================================================

func (m *Memory) GetRevenueRecord(_ context.Context, month time.Time) (*rental.MonthlyRevenueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[month.UTC()]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) UpsertRevenueRecord(_ context.Context, rec rental.MonthlyRevenueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Month = rec.Month.UTC()
	rec.Units = append([]rental.UnitRevenue(nil), rec.Units...)
	m.records[rec.Month] = rec
	return nil
}

func (m *Memory) ListRevenueRecords(_ context.Context, from, to time.Time) ([]rental.MonthlyRevenueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rental.MonthlyRevenueRecord
	for month, rec := range m.records {
		if month.Before(from) || month.After(to) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month.Before(result[j].Month) })
	return result, nil
}

// Reset drops every entity.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.agreements = make(map[string]rental.Agreement)
	m.units = make(map[string]rental.RentalUnit)
	m.unitOrder = nil
	m.vendors = make(map[string]rental.Vendor)
	m.records = make(map[time.Time]rental.MonthlyRevenueRecord)
	return nil
}
