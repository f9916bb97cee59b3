package state

import (
	nativecommon "swapchain/native/common"
)

// QuotaGet loads the quota counters of addr for module. Missing counters are
// returned zeroed.
func (m *Manager) QuotaGet(module string, addr [20]byte) (nativecommon.QuotaNow, error) {
	var now nativecommon.QuotaNow
	if _, err := m.KVGet(QuotaKey(module, addr), &now); err != nil {
		return nativecommon.QuotaNow{}, err
	}
	return now, nil
}

// QuotaPut stores the quota counters of addr for module.
func (m *Manager) QuotaPut(module string, addr [20]byte, now nativecommon.QuotaNow) error {
	return m.KVPut(QuotaKey(module, addr), now)
}
