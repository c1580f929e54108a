//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

// Forward declaration for Go callback
extern void goHotkeyCallback(int id, int pressed);

// Event handler for hotkeys
static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkRef;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkRef), NULL, &hkRef);

    UInt32 eventKind = GetEventKind(theEvent);
    int pressed = (eventKind == kEventHotKeyPressed) ? 1 : 0;

    goHotkeyCallback((int)hkRef.id, pressed);

    return noErr;
}

static int handlerInstalled = 0;

static void installHandler() {
    if (handlerInstalled) return;
    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;

    EventHandlerUPP handlerUPP = NewEventHandlerUPP(hotkeyHandler);
    InstallApplicationEventHandler(handlerUPP, 2, eventTypes, NULL, NULL);
    handlerInstalled = 1;
}

// Register hotkey with Carbon
static EventHotKeyRef registerHotkey(UInt32 keyCode, UInt32 modifiers, UInt32 id) {
    installHandler();

    EventHotKeyRef hotKeyRef = NULL;
    EventHotKeyID hotKeyID;
    hotKeyID.signature = 'tlns';
    hotKeyID.id = id;

    OSStatus status = RegisterEventHotKey(keyCode, modifiers, hotKeyID, GetApplicationEventTarget(), 0, &hotKeyRef);
    if (status != noErr) return NULL;
    return hotKeyRef;
}

static void unregisterHotkey(EventHotKeyRef ref) {
    if (ref != NULL) UnregisterEventHotKey(ref);
}
*/
import "C"

import (
	"fmt"
	"sync"
)

type darwinHotkey struct {
	id       int
	ref      C.EventHotKeyRef
	callback func(bool)
}

type darwinManager struct {
	mu     sync.Mutex
	nextID int
	keys   map[string]*darwinHotkey
}

var (
	registryMu sync.Mutex
	registry   = map[int]func(bool){}
)

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	return &darwinManager{keys: make(map[string]*darwinHotkey)}, nil
}

//export goHotkeyCallback
func goHotkeyCallback(id C.int, pressed C.int) {
	registryMu.Lock()
	cb := registry[int(id)]
	registryMu.Unlock()
	if cb != nil {
		cb(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	a, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}
	keyCode, ok := carbonKeyCode(a.Key)
	if !ok {
		return fmt.Errorf("no key code for %s", accel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID

	registryMu.Lock()
	registry[id] = callback
	registryMu.Unlock()

	ref := C.registerHotkey(C.UInt32(keyCode), C.UInt32(carbonModifiers(a.Modifiers)), C.UInt32(id))
	if ref == nil {
		registryMu.Lock()
		delete(registry, id)
		registryMu.Unlock()
		return fmt.Errorf("failed to register hotkey %s", accel)
	}
	m.keys[accel] = &darwinHotkey{id: id, ref: ref, callback: callback}
	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hk, ok := m.keys[accel]
	if !ok {
		return nil
	}
	C.unregisterHotkey(hk.ref)
	delete(m.keys, accel)

	registryMu.Lock()
	delete(registry, hk.id)
	registryMu.Unlock()
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	accels := make([]string, 0, len(m.keys))
	for accel := range m.keys {
		accels = append(accels, accel)
	}
	m.mu.Unlock()
	for _, accel := range accels {
		_ = m.Unregister(accel)
	}
	return nil
}

// carbonModifiers maps to cmdKey=0x100, shiftKey=0x200, optionKey=0x800, controlKey=0x1000.
func carbonModifiers(m Modifier) uint32 {
	var out uint32
	if m&ModSuper != 0 {
		out |= 0x100
	}
	if m&ModShift != 0 {
		out |= 0x200
	}
	if m&ModAlt != 0 {
		out |= 0x800
	}
	if m&ModCtrl != 0 {
		out |= 0x1000
	}
	return out
}

// ANSI virtual key codes from HIToolbox/Events.h.
var carbonKeys = map[string]uint32{
	"a": 0x00, "s": 0x01, "d": 0x02, "f": 0x03, "h": 0x04, "g": 0x05, "z": 0x06, "x": 0x07,
	"c": 0x08, "v": 0x09, "b": 0x0B, "q": 0x0C, "w": 0x0D, "e": 0x0E, "r": 0x0F, "y": 0x10,
	"t": 0x11, "1": 0x12, "2": 0x13, "3": 0x14, "4": 0x15, "6": 0x16, "5": 0x17, "9": 0x19,
	"7": 0x1A, "8": 0x1C, "0": 0x1D, "o": 0x1F, "u": 0x20, "i": 0x22, "p": 0x23, "l": 0x25,
	"j": 0x26, "k": 0x28, "n": 0x2D, "m": 0x2E,
	"return": 0x24, "tab": 0x30, "space": 0x31, "escape": 0x35,
	"f1": 0x7A, "f2": 0x78, "f3": 0x63, "f4": 0x76, "f5": 0x60, "f6": 0x61,
	"f7": 0x62, "f8": 0x64, "f9": 0x65, "f10": 0x6D, "f11": 0x67, "f12": 0x6F,
}

func carbonKeyCode(key string) (uint32, bool) {
	code, ok := carbonKeys[key]
	return code, ok
}
