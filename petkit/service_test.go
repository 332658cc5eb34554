package petkit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func rosterResponse(hasRelay bool, devices ...map[string]any) map[string]any {
	return map[string]any{"hasRelay": hasRelay, "devices": devices}
}

func fountainDetail() map[string]any {
	return map[string]any{
		"id":            10,
		"name":          "Kitchen Fountain",
		"mac":           "AA:BB:CC:DD:EE:FF",
		"mode":          1,
		"powerStatus":   1,
		"filterPercent": 80,
		"settings":      map[string]any{"lampRingSwitch": 1, "lampRingBrightness": 2},
	}
}

func handleRefreshBasics(f *fakeAPI) {
	f.handle(epDeviceRoster, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, rosterResponse(true, map[string]any{"type": "W5", "data": map[string]any{"id": 10}}))
	})
	f.handle(epFountainData, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, fountainDetail())
	})
	f.handle(epUserDetails, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{"user": map[string]any{
			"dogs": []map[string]any{{"id": 7, "name": "Milo", "type": map[string]any{"name": "cat"}}},
		}})
	})
}

func TestRefreshFullBLECycle(t *testing.T) {
	f := newFakeAPI(t)
	handleRefreshBasics(f)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{{"id": 99, "mac": "11:22", "pim": 1}})
	})
	f.handle(epBLEConnect, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]int{"state": 1})
	})
	f.handle(epBLEPoll, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 0)
	})
	f.handle(epBLEControl, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 1)
	})
	f.handle(epBLECancel, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	snapshot, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	fountain, ok := snapshot.Fountains[10]
	if !ok {
		t.Fatal("expected fountain 10 in snapshot")
	}
	if fountain.Name != "Kitchen Fountain" || fountain.FilterLife != 80 {
		t.Fatalf("unexpected fountain state: %+v", fountain)
	}
	if snapshot.UserID != "100" || !snapshot.HasRelay {
		t.Fatalf("unexpected snapshot header: %+v", snapshot)
	}
	if len(snapshot.Pets) != 1 || snapshot.Pets[0].Name != "Milo" {
		t.Fatalf("unexpected pets: %+v", snapshot.Pets)
	}

	// The BLE-enriched path fetches, primes the link, then re-fetches.
	if got := f.callCount(epFountainData); got != 2 {
		t.Fatalf("fountain data fetches = %d, want 2", got)
	}
	if got := f.callCount(epBLEControl); got != 2 {
		t.Fatalf("handshake frames = %d, want 2", got)
	}
	if got := f.callCount(epBLECancel); got != 1 {
		t.Fatalf("cancel calls = %d, want 1", got)
	}
}

func TestRefreshSkipsBLEDuringCooldown(t *testing.T) {
	f := newFakeAPI(t)
	handleRefreshBasics(f)

	c, _ := newTestClient(t, f)
	c.relays.NotePollSuccess(10)

	snapshot, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := snapshot.Fountains[10]; !ok {
		t.Fatal("expected fountain in snapshot")
	}
	if got := f.callCount(epBLEConnect); got != 0 {
		t.Fatalf("connect calls during cooldown = %d, want 0", got)
	}
	if got := f.callCount(epFountainData); got != 1 {
		t.Fatalf("fountain data fetches = %d, want 1", got)
	}
}

func TestRefreshNoRelayCandidates(t *testing.T) {
	f := newFakeAPI(t)
	handleRefreshBasics(f)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{})
	})

	c, _ := newTestClient(t, f)
	snapshot, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := snapshot.Fountains[10]; !ok {
		t.Fatal("expected fountain in snapshot despite missing relay")
	}
	if got := f.callCount(epBLEConnect); got != 0 {
		t.Fatalf("connect calls without relay = %d, want 0", got)
	}
}

func TestRefreshContinuesWhenLinkFails(t *testing.T) {
	f := newFakeAPI(t)
	handleRefreshBasics(f)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{{"id": 99, "mac": "11:22", "pim": 1}})
	})
	f.handle(epBLEConnect, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]int{"state": 0})
	})

	c, _ := newTestClient(t, f)
	snapshot, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("expected refresh to survive a dead relay link, got %v", err)
	}
	if _, ok := snapshot.Fountains[10]; !ok {
		t.Fatal("expected fountain in snapshot")
	}
	if got := f.callCount(epBLEConnect); got != bleMaxAttempts {
		t.Fatalf("connect attempts = %d, want %d", got, bleMaxAttempts)
	}
}

func TestControlFountainBrightnessWhileLightOff(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f)

	fountain := testFountain()
	fountain.Settings.LampRingSwitch = 0

	err := c.ControlFountain(context.Background(), fountain, FountainLightHigh)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != InvalidCommandForState {
		t.Fatalf("expected InvalidCommandForState, got %v", err)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected zero API calls, got %d", f.totalCalls())
	}
}

func TestControlFountainPauseWhilePaused(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f)

	fountain := testFountain()
	fountain.PowerStatus = 0

	err := c.ControlFountain(context.Background(), fountain, FountainPause)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != InvalidCommandForState {
		t.Fatalf("expected InvalidCommandForState, got %v", err)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected zero API calls, got %d", f.totalCalls())
	}
}

func TestControlFountainNoRelay(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{{"id": 99, "mac": "11:22", "pim": 0}})
	})

	c, _ := newTestClient(t, f)
	err := c.ControlFountain(context.Background(), testFountain(), FountainNormal)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != NoRelayAvailable {
		t.Fatalf("expected NoRelayAvailable, got %v", err)
	}
	if got := f.callCount(epBLEConnect); got != 0 {
		t.Fatalf("connect calls = %d, want 0", got)
	}
}

func TestControlFountainPauseRewrite(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{{"id": 99, "mac": "11:22", "pim": 1}})
	})
	f.handle(epBLEConnect, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]int{"state": 1})
	})
	f.handle(epBLEPoll, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 0)
	})
	var cmd string
	var frame []byte
	f.handle(epBLEControl, func(w http.ResponseWriter, r *http.Request) {
		cmd = r.Form.Get("cmd")
		var err error
		frame, err = decodeFrameString(r.Form.Get("data"))
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		writeResult(w, 1)
	})
	f.handle(epBLECancel, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	fountain := testFountain()
	fountain.Mode = 1 // normal mode, so pause becomes normal-to-pause
	if err := c.ControlFountain(context.Background(), fountain, FountainPause); err != nil {
		t.Fatalf("control: %v", err)
	}

	if cmd != "220" {
		t.Fatalf("cmd = %s, want 220", cmd)
	}
	// Payload [0, 1]: power off, from normal mode.
	payloadStart := 8
	if frame[payloadStart] != 0 || frame[payloadStart+1] != 1 {
		t.Fatalf("payload = [%d %d], want [0 1]", frame[payloadStart], frame[payloadStart+1])
	}
	if got := f.callCount(epBLEControl); got != 1 {
		t.Fatalf("control calls = %d, want 1", got)
	}
}

func TestControlFountainLinkFailure(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epBLEDevices, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{{"id": 99, "mac": "11:22", "pim": 1}})
	})
	f.handle(epBLEConnect, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]int{"state": 0})
	})

	c, _ := newTestClient(t, f)
	err := c.ControlFountain(context.Background(), testFountain(), FountainSmart)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != BluetoothLinkFailed {
		t.Fatalf("expected BluetoothLinkFailed, got %v", err)
	}
}

func litterBoxFixture(devType string) *LitterBox {
	return &LitterBox{ID: 20, Name: "Litter Box", Type: devType, State: LitterState{Power: 1}}
}

func TestControlLitterBoxPauseTracksWindow(t *testing.T) {
	f := newFakeAPI(t)
	var kv, cmdType string
	f.handle("/t4"+epControlDevice, func(w http.ResponseWriter, r *http.Request) {
		kv = r.Form.Get("kv")
		cmdType = r.Form.Get("type")
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	box := litterBoxFixture("t4")
	if err := c.ControlLitterBox(context.Background(), box, LitterPauseClean); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if kv != `{"stop_action":0}` || cmdType != "stop" {
		t.Fatalf("kv = %s type = %s", kv, cmdType)
	}
	if paused, _ := c.pauses.Status(20); !paused {
		t.Fatal("expected pause tracked after successful command")
	}
}

func TestControlLitterBoxPauseWhilePaused(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f)
	c.pauses.NotePause(20)

	err := c.ControlLitterBox(context.Background(), litterBoxFixture("t4"), LitterPauseClean)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != InvalidCommandForState {
		t.Fatalf("expected InvalidCommandForState, got %v", err)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected zero API calls, got %d", f.totalCalls())
	}
}

func TestControlLitterBoxT4StartWhilePausedBecomesResume(t *testing.T) {
	f := newFakeAPI(t)
	var kv string
	f.handle("/t4"+epControlDevice, func(w http.ResponseWriter, r *http.Request) {
		kv = r.Form.Get("kv")
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	c.pauses.NotePause(20)
	box := litterBoxFixture("t4")
	box.State.WorkState = &LitterWorkState{WorkMode: 0, WorkProcess: 20}

	if err := c.ControlLitterBox(context.Background(), box, LitterStartClean); err != nil {
		t.Fatalf("start-as-resume: %v", err)
	}
	if kv != `{"continue_action":0}` {
		t.Fatalf("kv = %s, want continue_action", kv)
	}
	if paused, _ := c.pauses.Status(20); paused {
		t.Fatal("expected pause cleared after resume")
	}
}

func TestControlLitterBoxT4StartWhileOperating(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f)
	box := litterBoxFixture("t4")
	box.State.WorkState = &LitterWorkState{WorkMode: 1, WorkProcess: 10}

	err := c.ControlLitterBox(context.Background(), box, LitterStartClean)
	var ctrlErr ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Kind != InvalidCommandForState {
		t.Fatalf("expected InvalidCommandForState, got %v", err)
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected zero API calls, got %d", f.totalCalls())
	}
}

func TestControlLitterBoxPuraXDualStageResume(t *testing.T) {
	f := newFakeAPI(t)
	var kvs []string
	f.handle("/t3"+epControlDevice, func(w http.ResponseWriter, r *http.Request) {
		kvs = append(kvs, r.Form.Get("kv"))
		writeResult(w, 1)
	})
	f.handle("/t3"+epDeviceRecord, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{
			{"enumEventType": "pet_out", "content": map[string]any{}},
			{"enumEventType": "clean_over", "content": map[string]any{"startReason": 0, "result": 3}},
		})
	})

	c, sleeps := newTestClient(t, f)
	c.pauses.NotePause(20)
	box := litterBoxFixture("t3")

	if err := c.ControlLitterBox(context.Background(), box, LitterStartClean); err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []string{`{"start_action":0}`, `{"continue_action":0}`}
	if len(kvs) != 2 || kvs[0] != want[0] || kvs[1] != want[1] {
		t.Fatalf("kvs = %v, want %v", kvs, want)
	}
	if paused, _ := c.pauses.Status(20); paused {
		t.Fatal("expected pause cleared after the follow-up resume")
	}
	if len(*sleeps) == 0 || (*sleeps)[0] != time.Second {
		t.Fatalf("expected a one second settle before the record check, got %v", *sleeps)
	}
}

func TestControlLitterBoxPuraXStartWithoutPausedRecord(t *testing.T) {
	f := newFakeAPI(t)
	var kvs []string
	f.handle("/t3"+epControlDevice, func(w http.ResponseWriter, r *http.Request) {
		kvs = append(kvs, r.Form.Get("kv"))
		writeResult(w, 1)
	})
	f.handle("/t3"+epDeviceRecord, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []map[string]any{
			{"enumEventType": "clean_over", "content": map[string]any{"startReason": 0, "result": 0}},
		})
	})

	c, _ := newTestClient(t, f)
	if err := c.ControlLitterBox(context.Background(), litterBoxFixture("t3"), LitterStartClean); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(kvs) != 1 || kvs[0] != `{"start_action":0}` {
		t.Fatalf("kvs = %v, want a single start", kvs)
	}
}

func TestControlLitterBoxPowerToggle(t *testing.T) {
	f := newFakeAPI(t)
	var kv string
	f.handle("/t4"+epControlDevice, func(w http.ResponseWriter, r *http.Request) {
		kv = r.Form.Get("kv")
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	box := litterBoxFixture("t4")
	box.State.Power = 1
	if err := c.ControlLitterBox(context.Background(), box, LitterPower); err != nil {
		t.Fatalf("power: %v", err)
	}
	if kv != `{"power_action":0}` {
		t.Fatalf("kv = %s, want power off while powered", kv)
	}

	box.State.Power = 0
	if err := c.ControlLitterBox(context.Background(), box, LitterPower); err != nil {
		t.Fatalf("power: %v", err)
	}
	if kv != `{"power_action":1}` {
		t.Fatalf("kv = %s, want power on while off", kv)
	}
}

func TestDualHopperFeedValidatesPortions(t *testing.T) {
	f := newFakeAPI(t)
	c, _ := newTestClient(t, f)
	feeder := &Feeder{ID: 30, Name: "Gemini", Type: "d4s"}

	if err := c.DualHopperFeed(context.Background(), feeder, 11, 0); err == nil {
		t.Fatal("expected portion validation error")
	}
	if err := c.DualHopperFeed(context.Background(), feeder, 0, -1); err == nil {
		t.Fatal("expected portion validation error")
	}
	if f.totalCalls() != 0 {
		t.Fatalf("expected zero API calls, got %d", f.totalCalls())
	}
}

func TestDualHopperFeedTracksLastFeedID(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("/d4s"+epManualFeed, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{"id": "feed-123"})
	})
	var cancelledID string
	f.handle("/d4s"+epCancelFeed, func(w http.ResponseWriter, r *http.Request) {
		cancelledID = r.Form.Get("id")
		writeResult(w, 1)
	})

	c, _ := newTestClient(t, f)
	feeder := &Feeder{ID: 30, Name: "Gemini", Type: "d4s"}

	if err := c.DualHopperFeed(context.Background(), feeder, 2, 3); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if feeder.LastManualFeedID != "feed-123" {
		t.Fatalf("last feed id = %s, want feed-123", feeder.LastManualFeedID)
	}

	if err := c.CancelManualFeed(context.Background(), feeder); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelledID != "feed-123" {
		t.Fatalf("cancelled id = %s, want feed-123", cancelledID)
	}
	if feeder.LastManualFeedID != "" {
		t.Fatal("expected last feed id cleared after cancel")
	}

	if err := c.CancelManualFeed(context.Background(), feeder); err == nil {
		t.Fatal("expected error cancelling without a tracked feed id")
	}
}

func TestRefreshFetchesLitterBoxState(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epDeviceRoster, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, rosterResponse(false, map[string]any{"type": "T4", "data": map[string]any{"id": 20}}))
	})
	f.handle("/t4"+epDeviceDetail, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{
			"id": 20, "name": "Litter Box",
			"state": map[string]any{"power": 1, "workState": map[string]any{"workMode": 0, "workProcess": 20}},
		})
	})
	var recordDateKey string
	f.handle("/t4"+epDeviceRecord, func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("date") != "" {
			recordDateKey = "date"
		} else if r.Form.Get("day") != "" {
			recordDateKey = "day"
		}
		writeResult(w, []map[string]any{})
	})
	f.handle("/t4"+epStatistic, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{"times": 4})
	})
	f.handle(epUserDetails, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{"user": map[string]any{"dogs": []map[string]any{}}})
	})

	c, _ := newTestClient(t, f)
	c.pauses.NotePause(20)

	snapshot, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	box, ok := snapshot.LitterBoxes[20]
	if !ok {
		t.Fatal("expected litter box in snapshot")
	}
	if box.State.WorkState == nil || box.State.WorkState.WorkProcess != 20 {
		t.Fatalf("unexpected work state: %+v", box.State.WorkState)
	}
	if !box.ManuallyPaused || box.ManualPauseEnd == nil {
		t.Fatal("expected tracked pause reflected in snapshot")
	}
	// The Pura Max takes "date" in record queries.
	if recordDateKey != "date" {
		t.Fatalf("record date key = %q, want date", recordDateKey)
	}
	var stats map[string]int
	if err := json.Unmarshal(box.Statistics, &stats); err != nil || stats["times"] != 4 {
		t.Fatalf("unexpected statistics: %s", box.Statistics)
	}
}
