// SPDX-License-Identifier: MIT

package rfid

import (
	"strconv"
	"strings"

	"github.com/holoplot/go-evdev"

	"github.com/consultease/central/internal/config"
	"github.com/consultease/central/internal/fault"
)

// inputDevice is the narrow seam over a grabbed evdev handle; tests
// substitute a scripted fake.
type inputDevice interface {
	ReadOne() (*evdev.InputEvent, error)
	Grab() error
	Ungrab() error
	Close() error
}

// openFunc resolves and opens the reader device. Swapped out in tests.
type openFunc func() (inputDevice, string, error)

// resolveDevice finds the card reader:
//  1. a configured path wins;
//  2. else the first device matching the configured VID/PID pair;
//  3. else any keyboard-class device with number keys and a terminator.
func resolveDevice(devicePath, vendorID, productID string) (inputDevice, string, error) {
	if devicePath != "" {
		dev, err := evdev.Open(devicePath)
		if err != nil {
			return nil, "", fault.Wrap(fault.Transient, "rfid.open", "configured reader not openable", err)
		}
		return dev, devicePath, nil
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, "", fault.Wrap(fault.Transient, "rfid.scan", "input device scan failed", err)
	}

	wantVendor := parseHexID(vendorID)
	wantProduct := parseHexID(productID)

	var fallback inputDevice
	var fallbackPath string
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		if id, err := dev.InputID(); err == nil &&
			wantVendor != 0 && id.Vendor == wantVendor && id.Product == wantProduct {
			if fallback != nil {
				_ = fallback.Close()
			}
			return dev, p.Path, nil
		}
		if fallback == nil && looksLikeScanner(dev) {
			fallback = dev
			fallbackPath = p.Path
			continue
		}
		_ = dev.Close()
	}
	if fallback != nil {
		return fallback, fallbackPath, nil
	}
	return nil, "", fault.New(fault.NotFound, "rfid.no_device", "no usable card reader found")
}

// Probe checks that a usable card reader can be opened with the given
// settings. Simulation mode always passes.
func Probe(cfg config.RFIDSettings) error {
	if cfg.Simulation {
		return nil
	}
	dev, _, err := resolveDevice(cfg.DevicePath, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return err
	}
	return dev.Close()
}

// looksLikeScanner accepts any keyboard-class device exposing number
// keys and an enter-like terminator.
func looksLikeScanner(dev *evdev.InputDevice) bool {
	hasKey := false
	for _, t := range dev.CapableTypes() {
		if t == evdev.EV_KEY {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return false
	}

	codes := dev.CapableEvents(evdev.EV_KEY)
	haveDigit, haveEnter := false, false
	for _, c := range codes {
		switch c {
		case evdev.KEY_ENTER, evdev.KEY_KPENTER:
			haveEnter = true
		default:
			if _, ok := charKeys[c]; ok && c >= evdev.KEY_1 && c <= evdev.KEY_0 {
				haveDigit = true
			}
		}
	}
	return haveDigit && haveEnter
}

func parseHexID(s string) uint16 {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
