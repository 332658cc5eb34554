package petkit

import (
	"encoding/base64"
	"fmt"
	"net/url"
)

// BLE frame layout fixed by the fountain firmware:
// 3-byte header, opcode, literal 1, sequence, payload length (low byte,
// high byte), payload, terminator. Values are written signed for parity
// with the protocol documentation and folded mod 256 on the wire.
var bleHeader = [3]int{-6, -4, -3}

const bleTerminator = -5

// encodeShort packs a 16-bit value big-endian, regardless of host order.
func encodeShort(v uint16) [2]byte {
	return [2]byte{byte(v >> 8), byte(v & 0xFF)}
}

// decodeShort is the inverse of encodeShort.
func decodeShort(b [2]byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// shortInts returns the two big-endian bytes of v as payload ints.
func shortInts(v uint16) []int {
	b := encodeShort(v)
	return []int{int(b[0]), int(b[1])}
}

// buildFrame assembles a complete frame around payload. Pure; the caller
// owns the sequence counter. The length field is split across two bytes
// even though observed payloads stay under one.
func buildFrame(opcode int, seq uint8, payload []int) []byte {
	frame := make([]byte, 0, len(payload)+8)
	for _, b := range bleHeader {
		frame = append(frame, byte(b&0xFF))
	}
	frame = append(frame,
		byte(opcode&0xFF),
		1,
		seq,
		byte(len(payload)&0xFF),
		byte(len(payload)>>8),
	)
	for _, b := range payload {
		frame = append(frame, byte(b&0xFF))
	}
	return append(frame, byte(bleTerminator&0xFF))
}

// frameLength decodes the two-byte length field of a built frame.
func frameLength(frame []byte) int {
	if len(frame) < 8 {
		return 0
	}
	return int(frame[6]) | int(frame[7])<<8
}

// encodeFrameString wraps frame bytes for cloud transport: base64, then
// percent-encoding. Must be exactly reversible.
func encodeFrameString(frame []byte) string {
	return url.QueryEscape(base64.StdEncoding.EncodeToString(frame))
}

// decodeFrameString recovers the frame bytes from the transport string.
func decodeFrameString(s string) ([]byte, error) {
	unescaped, err := url.QueryUnescape(s)
	if err != nil {
		return nil, fmt.Errorf("unescape frame string: %w", err)
	}
	frame, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		return nil, fmt.Errorf("decode frame string: %w", err)
	}
	return frame, nil
}

// settingsPayload builds the nine-field echo-all-but-one payload for
// settings-class commands. Exactly one of the three single-byte fields is
// replaced by the command's value; everything else is copied from the
// snapshot. Omitting a field would make the appliance reset it.
func settingsPayload(cmd FountainCommand, settings *FountainSettings) ([]int, error) {
	if settings == nil {
		return nil, ErrMissingDeviceState
	}

	lightSwitch := settings.LampRingSwitch
	brightness := settings.LampRingBrightness
	dndSwitch := settings.NoDisturbingSwitch
	switch {
	case cmd.isLightPower():
		lightSwitch = cmd.settingValue()
	case cmd.isLightBrightness():
		brightness = cmd.settingValue()
	case cmd.isDoNotDisturb():
		dndSwitch = cmd.settingValue()
	default:
		return nil, fmt.Errorf("command %s is not settings-class", cmd)
	}

	payload := make([]int, 0, 13)
	payload = append(payload, settings.SmartWorkingTime, settings.SmartSleepTime, lightSwitch, brightness)
	payload = append(payload, shortInts(uint16(settings.LampRingLightUpTime))...)
	payload = append(payload, shortInts(uint16(settings.LampRingGoOutTime))...)
	payload = append(payload, dndSwitch)
	payload = append(payload, shortInts(uint16(settings.NoDisturbingStartTime))...)
	payload = append(payload, shortInts(uint16(settings.NoDisturbingEndTime))...)
	return payload, nil
}

// commandPayload maps a command onto its payload. Settings-class commands
// need the live settings snapshot; mode transitions use fixed literals
// (the firmware takes the power flag and target mode without reading
// current settings); handshake and filter-reset frames are empty.
func commandPayload(cmd FountainCommand, settings *FountainSettings) ([]int, error) {
	switch cmd {
	case fountainHandshakeFirst, fountainHandshakeSecond, FountainResetFilter:
		return nil, nil
	case FountainNormalToPause:
		return []int{0, 1}, nil
	case FountainSmartToPause:
		return []int{0, 2}, nil
	case FountainNormal:
		return []int{1, 1}, nil
	case FountainSmart:
		return []int{1, 2}, nil
	case FountainPause:
		return nil, fmt.Errorf("pause must be resolved against the current mode before encoding")
	case FountainLightOn, FountainLightOff, FountainLightLow, FountainLightMedium,
		FountainLightHigh, FountainDoNotDisturb, FountainDoNotDisturbOff:
		return settingsPayload(cmd, settings)
	default:
		return nil, fmt.Errorf("unhandled fountain command %s", cmd)
	}
}

// commandFrame builds and transport-encodes the frame for cmd at seq.
func commandFrame(cmd FountainCommand, seq uint8, settings *FountainSettings) (string, error) {
	payload, err := commandPayload(cmd, settings)
	if err != nil {
		return "", err
	}
	return encodeFrameString(buildFrame(cmd.opcode(), seq, payload)), nil
}
