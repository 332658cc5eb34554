package petkit

import (
	"encoding/json"
	"time"
)

// Device type groups as reported by the roster.
var (
	fountainTypes = map[string]bool{"W5": true}
	feederTypes   = map[string]bool{"D3": true, "D4": true, "D4s": true, "D4sh": true, "Feeder": true, "FeederMini": true}
	litterTypes   = map[string]bool{"T3": true, "T4": true}
	purifierTypes = map[string]bool{"K2": true}
)

// rosterResult is the device roster envelope.
type rosterResult struct {
	HasRelay bool           `json:"hasRelay"`
	Devices  []RosterDevice `json:"devices"`
}

// RosterDevice is one roster entry before the typed detail fetch.
type RosterDevice struct {
	Type string `json:"type"`
	Data struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

// RelayCandidate is one entry from the relay-candidate listing. pim == 1
// means the candidate is powered, idle, and acting as main.
type RelayCandidate struct {
	ID  int64  `json:"id"`
	MAC string `json:"mac"`
	PIM int    `json:"pim"`
}

// FountainSettings is the W5 settings snapshot. Settings-class commands
// must echo every field here except the one being written.
type FountainSettings struct {
	SmartWorkingTime      int `json:"smartWorkingTime"`
	SmartSleepTime        int `json:"smartSleepTime"`
	LampRingSwitch        int `json:"lampRingSwitch"`
	LampRingBrightness    int `json:"lampRingBrightness"`
	LampRingLightUpTime   int `json:"lampRingLightUpTime"`
	LampRingGoOutTime     int `json:"lampRingGoOutTime"`
	NoDisturbingSwitch    int `json:"noDisturbingSwitch"`
	NoDisturbingStartTime int `json:"noDisturbingStartTime"`
	NoDisturbingEndTime   int `json:"noDisturbingEndTime"`
}

// Fountain is the W5 water fountain state.
type Fountain struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	MAC         string           `json:"mac"`
	Mode        int              `json:"mode"`
	PowerStatus int              `json:"powerStatus"`
	FilterLife  int              `json:"filterPercent"`
	Settings    FountainSettings `json:"settings"`

	// Type is the lowercased roster type; RelayType identifies which
	// relay appliance bridges BLE calls for this fountain. Both are set
	// after the detail fetch, never parsed from it.
	Type      string `json:"-"`
	RelayType int    `json:"-"`
}

// LitterWorkState is the litter box's current operation, when one is
// running.
type LitterWorkState struct {
	WorkMode    int `json:"workMode"`
	WorkProcess int `json:"workProcess"`
}

// LitterState is the state block inside the litter box detail.
type LitterState struct {
	Power     int              `json:"power"`
	WorkState *LitterWorkState `json:"workState"`
}

// LitterRecord is one device event record. A clean_over record with
// result 3 and a device/schedule start reason marks a cleaning cycle that
// ended while paused.
type LitterRecord struct {
	EventType string `json:"enumEventType"`
	Content   struct {
		StartReason int `json:"startReason"`
		Result      int `json:"result"`
	} `json:"content"`
}

// LitterBox is a T3 (Pura X) or T4 (Pura Max) litter box.
type LitterBox struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	State LitterState `json:"state"`

	Type       string          `json:"-"`
	Records    []LitterRecord  `json:"records"`
	Statistics json.RawMessage `json:"statistics"`

	// Manual pause tracking, filled from the tracker on refresh.
	ManuallyPaused bool       `json:"manuallyPaused"`
	ManualPauseEnd *time.Time `json:"manualPauseEnd"`
}

// Feeder is any of the feeder device generations.
type Feeder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	Type      string           `json:"-"`
	SoundList map[int64]string `json:"soundList"`
	// LastManualFeedID is needed to cancel an in-flight dual-hopper feed.
	LastManualFeedID string `json:"lastManualFeedId"`
}

// PurifierState is the state block inside the purifier detail.
type PurifierState struct {
	Power int `json:"power"`
}

// Purifier is a K2 air purifier.
type Purifier struct {
	ID    int64         `json:"id"`
	Name  string        `json:"name"`
	State PurifierState `json:"state"`

	Type string `json:"-"`
}

// Pet is a pet profile attached to the account.
type Pet struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
	Type struct {
		Name string `json:"name"`
	} `json:"type"`
}

// Snapshot is the full account state returned by Refresh.
type Snapshot struct {
	UserID      string
	HasRelay    bool
	Fountains   map[int64]*Fountain
	LitterBoxes map[int64]*LitterBox
	Feeders     map[int64]*Feeder
	Purifiers   map[int64]*Purifier
	Pets        []Pet
}
