package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaCallsExceeded   = errors.New("quota calls exceeded")
	ErrQuotaValueExceeded   = errors.New("quota value exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a caller.
type QuotaNow struct {
	Calls   uint32
	Value   uint64
	EpochID uint64
}

// Quota defines the limits enforced for a module interaction per caller.
type Quota struct {
	MaxCallsPerEpoch uint32
	MaxValuePerEpoch uint64
	EpochSeconds     uint32
}

// Epoch returns the quota epoch containing the unix timestamp now.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional calls and locked value fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addCalls uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addCalls > 0 {
		if next.Calls > math.MaxUint32-addCalls {
			return prev, ErrQuotaCounterOverflow
		}
		next.Calls += addCalls
	}
	if q.MaxCallsPerEpoch > 0 && next.Calls > q.MaxCallsPerEpoch {
		return prev, ErrQuotaCallsExceeded
	}

	if addValue > 0 {
		if next.Value > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.Value += addValue
	}
	if q.MaxValuePerEpoch > 0 && next.Value > q.MaxValuePerEpoch {
		return prev, ErrQuotaValueExceeded
	}

	return next, nil
}
