package petkit

import "fmt"

// FountainCommand is the closed set of commands the W5 fountain accepts over
// the BLE relay. Each command maps to exactly one opcode/payload shape.
type FountainCommand int

const (
	FountainPause FountainCommand = iota
	FountainNormal
	FountainSmart
	FountainNormalToPause
	FountainSmartToPause
	FountainResetFilter
	FountainLightOn
	FountainLightOff
	FountainLightLow
	FountainLightMedium
	FountainLightHigh
	FountainDoNotDisturb
	FountainDoNotDisturbOff

	// The two handshake frames sent after a successful poll to prime the
	// relay link. Internal to the refresh cycle.
	fountainHandshakeFirst
	fountainHandshakeSecond
)

// Frame opcodes fixed by the fountain firmware. Stored signed for parity
// with the protocol documentation; folded mod 256 on the wire.
const (
	opHandshakeFirst  = -41 // 215 on the wire
	opHandshakeSecond = -40 // 216
	opMode            = -36 // 220
	opSettings        = -35 // 221
	opResetFilter     = -34 // 222
)

func (c FountainCommand) String() string {
	switch c {
	case FountainPause:
		return "pause"
	case FountainNormal:
		return "normal"
	case FountainSmart:
		return "smart"
	case FountainNormalToPause:
		return "normal-to-pause"
	case FountainSmartToPause:
		return "smart-to-pause"
	case FountainResetFilter:
		return "reset-filter"
	case FountainLightOn:
		return "light-on"
	case FountainLightOff:
		return "light-off"
	case FountainLightLow:
		return "light-low"
	case FountainLightMedium:
		return "light-medium"
	case FountainLightHigh:
		return "light-high"
	case FountainDoNotDisturb:
		return "dnd-on"
	case FountainDoNotDisturbOff:
		return "dnd-off"
	case fountainHandshakeFirst:
		return "handshake-first"
	case fountainHandshakeSecond:
		return "handshake-second"
	default:
		return fmt.Sprintf("fountain-command-%d", int(c))
	}
}

// ParseFountainCommand maps a CLI/user string onto a command.
func ParseFountainCommand(s string) (FountainCommand, error) {
	for _, c := range []FountainCommand{
		FountainPause, FountainNormal, FountainSmart, FountainResetFilter,
		FountainLightOn, FountainLightOff, FountainLightLow,
		FountainLightMedium, FountainLightHigh, FountainDoNotDisturb,
		FountainDoNotDisturbOff,
	} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown fountain command %q", s)
}

func (c FountainCommand) opcode() int {
	switch c {
	case fountainHandshakeFirst:
		return opHandshakeFirst
	case fountainHandshakeSecond:
		return opHandshakeSecond
	case FountainNormal, FountainSmart, FountainNormalToPause, FountainSmartToPause, FountainPause:
		return opMode
	case FountainResetFilter:
		return opResetFilter
	default:
		return opSettings
	}
}

// wireCode is the command code the cloud control endpoint expects alongside
// the encoded frame.
func (c FountainCommand) wireCode() string {
	switch c {
	case fountainHandshakeFirst:
		return "215"
	case fountainHandshakeSecond:
		return "216"
	case FountainNormal, FountainSmart, FountainNormalToPause, FountainSmartToPause, FountainPause:
		return "220"
	case FountainResetFilter:
		return "222"
	default:
		return "221"
	}
}

func (c FountainCommand) isLightPower() bool {
	return c == FountainLightOn || c == FountainLightOff
}

func (c FountainCommand) isLightBrightness() bool {
	return c == FountainLightLow || c == FountainLightMedium || c == FountainLightHigh
}

func (c FountainCommand) isDoNotDisturb() bool {
	return c == FountainDoNotDisturb || c == FountainDoNotDisturbOff
}

// isSettingsClass reports whether the command writes one settings field and
// must echo the rest.
func (c FountainCommand) isSettingsClass() bool {
	return c.isLightPower() || c.isLightBrightness() || c.isDoNotDisturb()
}

// settingValue is the single replaced field value for settings-class
// commands.
func (c FountainCommand) settingValue() int {
	switch c {
	case FountainLightOn, FountainLightLow, FountainDoNotDisturb:
		return 1
	case FountainLightMedium:
		return 2
	case FountainLightHigh:
		return 3
	default:
		return 0
	}
}

// LitterBoxCommand is a cloud key/value command for litter boxes.
type LitterBoxCommand string

const (
	LitterStartClean    LitterBoxCommand = "start_clean"
	LitterPauseClean    LitterBoxCommand = "stop_clean"
	LitterResumeClean   LitterBoxCommand = "continue_clean"
	LitterPower         LitterBoxCommand = "power"
	LitterLightOn       LitterBoxCommand = "light_on"
	LitterOdorRemoval   LitterBoxCommand = "start_odor"
	LitterResetDeodor   LitterBoxCommand = "reset_deodorizer"
	LitterDumpLitter    LitterBoxCommand = "dump_litter"
	LitterPauseDump     LitterBoxCommand = "pause_litter_dump"
	LitterResumeDump    LitterBoxCommand = "resume_litter_dump"
	LitterStartMaint    LitterBoxCommand = "start_maintenance"
	LitterExitMaint     LitterBoxCommand = "exit_maintenance"
	LitterResetMaxDeodo LitterBoxCommand = "reset_max_deodorizer"
)

// Cloud control endpoint dispatch tables. The key/type pair selects the
// firmware action class; the value selects the action within it.
var (
	litterCommandKey = map[LitterBoxCommand]string{
		LitterStartClean:    "start_action",
		LitterPauseClean:    "stop_action",
		LitterResumeClean:   "continue_action",
		LitterPower:         "power_action",
		LitterLightOn:       "start_action",
		LitterOdorRemoval:   "start_action",
		LitterResetDeodor:   "start_action",
		LitterDumpLitter:    "start_action",
		LitterPauseDump:     "stop_action",
		LitterResumeDump:    "continue_action",
		LitterStartMaint:    "start_action",
		LitterExitMaint:     "end_action",
		LitterResetMaxDeodo: "start_action",
	}
	litterCommandType = map[LitterBoxCommand]string{
		LitterStartClean:    "start",
		LitterPauseClean:    "stop",
		LitterResumeClean:   "continue",
		LitterPower:         "power",
		LitterLightOn:       "start",
		LitterOdorRemoval:   "start",
		LitterResetDeodor:   "start",
		LitterDumpLitter:    "start",
		LitterPauseDump:     "stop",
		LitterResumeDump:    "continue",
		LitterStartMaint:    "start",
		LitterExitMaint:     "end",
		LitterResetMaxDeodo: "start",
	}
	litterCommandValue = map[LitterBoxCommand]int{
		LitterStartClean:    0,
		LitterPauseClean:    0,
		LitterResumeClean:   0,
		LitterLightOn:       7,
		LitterOdorRemoval:   2,
		LitterResetDeodor:   6,
		LitterDumpLitter:    1,
		LitterPauseDump:     1,
		LitterResumeDump:    1,
		LitterStartMaint:    9,
		LitterExitMaint:     9,
		LitterResetMaxDeodo: 8,
	}
)

// PurifierCommand is a cloud key/value command for air purifiers.
type PurifierCommand string

const (
	PurifierPower        PurifierCommand = "power"
	PurifierAutoMode     PurifierCommand = "auto_mode"
	PurifierSilentMode   PurifierCommand = "silent_mode"
	PurifierStandardMode PurifierCommand = "standard_mode"
	PurifierStrongMode   PurifierCommand = "strong_mode"
)

var (
	purifierCommandKey = map[PurifierCommand]string{
		PurifierPower:        "power_action",
		PurifierAutoMode:     "mode_action",
		PurifierSilentMode:   "mode_action",
		PurifierStandardMode: "mode_action",
		PurifierStrongMode:   "mode_action",
	}
	purifierCommandType = map[PurifierCommand]string{
		PurifierPower:        "power",
		PurifierAutoMode:     "mode",
		PurifierSilentMode:   "mode",
		PurifierStandardMode: "mode",
		PurifierStrongMode:   "mode",
	}
	purifierCommandValue = map[PurifierCommand]int{
		PurifierAutoMode:     0,
		PurifierSilentMode:   1,
		PurifierStandardMode: 2,
		PurifierStrongMode:   3,
	}
)
