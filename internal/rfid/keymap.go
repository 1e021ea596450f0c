// SPDX-License-Identifier: MIT

package rfid

import (
	"github.com/holoplot/go-evdev"
)

// charKeys maps the keyboard-class event codes an HID card reader emits
// to their characters. Shift chords are ignored; scans are normalized to
// upper case anyway.
var charKeys = map[evdev.EvCode]rune{
	evdev.KEY_1: '1', evdev.KEY_2: '2', evdev.KEY_3: '3',
	evdev.KEY_4: '4', evdev.KEY_5: '5', evdev.KEY_6: '6',
	evdev.KEY_7: '7', evdev.KEY_8: '8', evdev.KEY_9: '9',
	evdev.KEY_0: '0',

	evdev.KEY_KP1: '1', evdev.KEY_KP2: '2', evdev.KEY_KP3: '3',
	evdev.KEY_KP4: '4', evdev.KEY_KP5: '5', evdev.KEY_KP6: '6',
	evdev.KEY_KP7: '7', evdev.KEY_KP8: '8', evdev.KEY_KP9: '9',
	evdev.KEY_KP0: '0',

	evdev.KEY_A: 'A', evdev.KEY_B: 'B', evdev.KEY_C: 'C',
	evdev.KEY_D: 'D', evdev.KEY_E: 'E', evdev.KEY_F: 'F',
	evdev.KEY_G: 'G', evdev.KEY_H: 'H', evdev.KEY_I: 'I',
	evdev.KEY_J: 'J', evdev.KEY_K: 'K', evdev.KEY_L: 'L',
	evdev.KEY_M: 'M', evdev.KEY_N: 'N', evdev.KEY_O: 'O',
	evdev.KEY_P: 'P', evdev.KEY_Q: 'Q', evdev.KEY_R: 'R',
	evdev.KEY_S: 'S', evdev.KEY_T: 'T', evdev.KEY_U: 'U',
	evdev.KEY_V: 'V', evdev.KEY_W: 'W', evdev.KEY_X: 'X',
	evdev.KEY_Y: 'Y', evdev.KEY_Z: 'Z',
}

// decodeKey classifies one input event: a scan character, the
// terminator, or noise (releases, repeats, modifiers).
func decodeKey(ev *evdev.InputEvent) (ch rune, terminator bool, ok bool) {
	if ev == nil || ev.Type != evdev.EV_KEY || ev.Value != 1 {
		return 0, false, false
	}
	switch ev.Code {
	case evdev.KEY_ENTER, evdev.KEY_KPENTER:
		return 0, true, true
	}
	if ch, found := charKeys[ev.Code]; found {
		return ch, false, true
	}
	return 0, false, false
}
