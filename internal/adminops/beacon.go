// SPDX-License-Identifier: MIT

package adminops

import (
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/consultease/central/internal/fault"
)

// NormalizeBeacon canonicalizes a beacon identifier so the same physical
// beacon always compares equal: BLE MAC addresses become uppercase
// colon-separated form, iBeacon UUIDs become uppercase dashed form.
func NormalizeBeacon(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if hw, err := net.ParseMAC(s); err == nil {
		return strings.ToUpper(hw.String()), nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return strings.ToUpper(id.String()), nil
	}
	return "", fault.Newf(fault.Validation, "beacon.format",
		"beacon id %q is neither a MAC address nor a UUID", raw)
}
