package events

// Device classes published by the privileged service.
const (
	ClassIdea  = "IdeaVPC"
	ClassThink = "ThinkVPC"
	ClassHIDD  = "YogaHIDD"
)

// ThinkVPC hotkey codes the core reacts to beyond display.
const (
	ThinkMute    uint32 = 0x1017
	ThinkMicMute uint32 = 0x101B
)

// Descriptor describes how an event is presented.
type Descriptor struct {
	Name  string
	Image string
	// Display is false for events that are tracked but not announced.
	Display bool
}

// Table is the ordered set of event codes one device class subscribes to.
type Table struct {
	Class  string
	Codes  []uint32
	byCode map[uint32]Descriptor
}

// Lookup returns the descriptor of code.
func (t Table) Lookup(code uint32) (Descriptor, bool) {
	d, ok := t.byCode[code]
	return d, ok
}

// Contains reports whether code is part of the table.
func (t Table) Contains(code uint32) bool {
	_, ok := t.byCode[code]
	return ok
}

type entry struct {
	code uint32
	desc Descriptor
}

func newTable(class string, entries ...entry) Table {
	t := Table{
		Class:  class,
		Codes:  make([]uint32, 0, len(entries)),
		byCode: make(map[uint32]Descriptor, len(entries)),
	}
	for _, e := range entries {
		t.Codes = append(t.Codes, e.code)
		t.byCode[e.code] = e.desc
	}
	return t
}

var catalog = map[string]Table{
	ClassIdea: newTable(ClassIdea,
		entry{0x00, Descriptor{"Special Button", "kStar", true}},
		entry{0x02, Descriptor{"Keyboard Backlight", "kBacklightHigh", true}},
		entry{0x05, Descriptor{"Touchpad", "kKeyboard", true}},
		entry{0x07, Descriptor{"Camera", "kCamera", true}},
		entry{0x08, Descriptor{"Microphone", "kMic", true}},
		entry{0x0D, Descriptor{"Airplane Mode", "kAirplaneMode", true}},
		entry{0x10, Descriptor{"Display Off", "kSleep", false}},
		entry{0x11, Descriptor{"Fn Lock", "kFunctionKey", true}},
	),
	ClassThink: newTable(ClassThink,
		entry{0x1004, Descriptor{"Sleep", "kSleep", false}},
		entry{0x1005, Descriptor{"Wireless", "kAntenna", true}},
		entry{0x1007, Descriptor{"Second Display", "kSecondDisplay", true}},
		entry{0x1012, Descriptor{"Keyboard Backlight", "kBacklightHigh", true}},
		entry{ThinkMute, Descriptor{"Mute", "", false}},
		entry{0x1018, Descriptor{"ThinkVantage", "kStar", true}},
		entry{ThinkMicMute, Descriptor{"Microphone", "kMicOff", true}},
		entry{0x4010, Descriptor{"Dock", "kDock", true}},
		entry{0x4011, Descriptor{"Undock", "kUndock", true}},
		entry{0x6030, Descriptor{"Thermal Change", "", false}},
		entry{0x60C0, Descriptor{"Tablet Mode", "kKeyboardOff", true}},
	),
	ClassHIDD: newTable(ClassHIDD,
		entry{0x08, Descriptor{"Airplane Mode", "kAirplaneMode", true}},
		entry{0x0E, Descriptor{"Bluetooth", "kBluetooth", true}},
		entry{0x10, Descriptor{"Sleep", "kSleep", false}},
	),
}

// TableFor returns the event table of a device class.
func TableFor(class string) (Table, bool) {
	t, ok := catalog[class]
	return t, ok
}
