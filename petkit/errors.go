package petkit

import (
	"errors"
	"fmt"
)

// ErrMissingDeviceState is returned when a settings-class command is built
// without a current settings snapshot. The wire contract requires echoing
// every sibling field, so the snapshot is mandatory.
var ErrMissingDeviceState = errors.New("petkit: settings snapshot required to build command payload")

// APIError is the generic vendor error envelope.
type APIError struct {
	Code    int
	Message string
}

func (e APIError) Error() string {
	return fmt.Sprintf("petkit api error %d: %s", e.Code, e.Message)
}

// AuthError covers credential and session failures (codes 122, 5).
type AuthError struct {
	Code    int
	Message string
}

func (e AuthError) Error() string {
	return fmt.Sprintf("petkit auth error %d: %s", e.Code, e.Message)
}

// ServerError covers vendor-side outages and maintenance windows.
type ServerError struct {
	Code    int
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("petkit server error %d: %s", e.Code, e.Message)
}

// BluetoothError is raised when the vendor reports a Bluetooth-layer
// failure for a relayed call.
type BluetoothError struct {
	Code    int
	Message string
}

func (e BluetoothError) Error() string {
	return fmt.Sprintf("petkit bluetooth error %d: %s", e.Code, e.Message)
}

// ControlErrorKind classifies user-facing control failures.
type ControlErrorKind int

const (
	// NoRelayAvailable means no relay candidate was reported, or the main
	// relay is offline.
	NoRelayAvailable ControlErrorKind = iota
	// BluetoothLinkFailed means the connect/poll retry budget was spent.
	BluetoothLinkFailed
	// InvalidCommandForState means the command contradicts the appliance's
	// current state (pause while paused, brightness while light off).
	InvalidCommandForState
)

func (k ControlErrorKind) String() string {
	switch k {
	case NoRelayAvailable:
		return "no relay available"
	case BluetoothLinkFailed:
		return "bluetooth link failed"
	case InvalidCommandForState:
		return "invalid command for device state"
	default:
		return "unknown"
	}
}

// ControlError is returned by command operations.
type ControlError struct {
	Kind   ControlErrorKind
	Device string
	Reason string
}

func (e ControlError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("petkit control error (%s): %s", e.Device, e.Kind)
	}
	return fmt.Sprintf("petkit control error (%s): %s: %s", e.Device, e.Kind, e.Reason)
}

var (
	authErrorCodes = map[int]string{
		122: "PetKit username/email or password is incorrect",
		5:   "Login session expired. Your account can only be signed in on one device.",
	}
	serverErrorCodes = map[int]string{
		1:  "PetKit servers are busy. Please try again later.",
		99: "PetKit servers are undergoing maintenance. Please try again later.",
	}
	bluetoothErrorCodes = map[int]string{
		3003: "Bluetooth connection failed. Retrying on next update.",
	}
)

// mapAPIError turns a vendor error payload into the typed taxonomy.
func mapAPIError(code int, msg string) error {
	if known, ok := authErrorCodes[code]; ok {
		return AuthError{Code: code, Message: known}
	}
	if known, ok := serverErrorCodes[code]; ok {
		return ServerError{Code: code, Message: known}
	}
	if known, ok := bluetoothErrorCodes[code]; ok {
		return BluetoothError{Code: code, Message: known}
	}
	return APIError{Code: code, Message: msg}
}
