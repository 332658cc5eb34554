package petkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// Connect and poll are retried up to this many total attempts, with a
	// fixed delay between attempts. Retries are sequential; the relay
	// assumes a single attempt in flight.
	bleMaxAttempts = 4
	bleRetryDelay  = 3 * time.Second

	// The relay link is asynchronous: it is not ready for writes right
	// after the poll acknowledgment, and the link should settle again
	// before the cancel call.
	bleSettleDelay = 2 * time.Second

	// Minimum interval between relay activations for one appliance.
	// Polling more often than this locks up the fountain firmware.
	bleRefreshCooldown = 7 * time.Minute
)

// errRelayExhausted marks a connect/poll step whose retry budget is spent.
var errRelayExhausted = errors.New("petkit: relay retry budget exhausted")

// bleSession is the ephemeral state for one relay-mediated operation. The
// sequence counter strictly increases by one per frame sent and is reset
// to zero when the session closes.
type bleSession struct {
	client    *Client
	bleID     int64
	mac       string
	relayType int

	seq      uint8
	linkOpen bool
}

func (c *Client) newBLESession(f *Fountain) *bleSession {
	relayType := f.RelayType
	if relayType == 0 {
		relayType = c.cfg.RelayType
	}
	return &bleSession{client: c, bleID: f.ID, mac: f.MAC, relayType: relayType}
}

func (s *bleSession) identifiers() url.Values {
	form := url.Values{}
	form.Set("bleId", strconv.FormatInt(s.bleID, 10))
	form.Set("mac", s.mac)
	form.Set("type", strconv.Itoa(s.relayType))
	return form
}

// relayCandidates lists the relay appliances available to the account.
func (c *Client) relayCandidates(ctx context.Context) ([]RelayCandidate, error) {
	result, err := c.post(ctx, epBLEDevices, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("list relay candidates: %w", err)
	}
	var candidates []RelayCandidate
	if err := json.Unmarshal(result, &candidates); err != nil {
		return nil, fmt.Errorf("parse relay candidates: %w", err)
	}
	return candidates, nil
}

// connect opens the relay link. The remote signals success with state == 1.
// Failed attempts are retried with a fixed delay up to the attempt budget.
func (s *bleSession) connect(ctx context.Context) error {
	err := s.retryStep(ctx, "connect", func(ctx context.Context) error {
		result, err := s.client.post(ctx, epBLEConnect, s.identifiers())
		if err != nil {
			return err
		}
		var resp struct {
			State int `json:"state"`
		}
		if err := json.Unmarshal(result, &resp); err != nil {
			return fmt.Errorf("parse connect response: %w", err)
		}
		if resp.State != 1 {
			return fmt.Errorf("relay connect state %d", resp.State)
		}
		return nil
	})
	if err == nil {
		s.linkOpen = true
	}
	return err
}

// poll activates the relay link. The remote signals success with a bare
// result of 0.
func (s *bleSession) poll(ctx context.Context) error {
	return s.retryStep(ctx, "poll", func(ctx context.Context) error {
		result, err := s.client.post(ctx, epBLEPoll, s.identifiers())
		if err != nil {
			return err
		}
		var code int
		if err := json.Unmarshal(result, &code); err != nil {
			return fmt.Errorf("parse poll response: %w", err)
		}
		if code != 0 {
			return fmt.Errorf("relay poll result %d", code)
		}
		return nil
	})
}

// retryStep runs one session step with the bounded sequential retry
// policy. A context cancellation aborts immediately; everything else
// counts against the attempt budget.
func (s *bleSession) retryStep(ctx context.Context, step string, attempt func(context.Context) error) error {
	var lastErr error
	for i := 1; i <= bleMaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(ctx)
		bleAttemptsTotal.WithLabelValues(step, outcomeLabel(err)).Inc()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.client.log.Debugw("BLE step failed", "step", step, "attempt", i, "err", err)
		if i < bleMaxAttempts {
			if err := s.client.sleep(ctx, bleRetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", errRelayExhausted, step, lastErr)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// sendFrame builds, encodes, and sends one command frame at the session's
// current sequence value, then advances the counter.
func (s *bleSession) sendFrame(ctx context.Context, cmd FountainCommand, settings *FountainSettings) error {
	data, err := commandFrame(cmd, s.seq, settings)
	if err != nil {
		return err
	}
	form := s.identifiers()
	form.Set("cmd", cmd.wireCode())
	form.Set("data", data)
	if _, err := s.client.post(ctx, epBLEControl, form); err != nil {
		return err
	}
	s.seq++
	return nil
}

// handshake primes the relay link with the two fixed frames required
// before fountain data can be read. The sequence is forced to 1 for the
// first frame. A vendor-reported Bluetooth failure here is swallowed; the
// refresh continues on whatever data the cloud has.
func (s *bleSession) handshake(ctx context.Context) error {
	s.seq = 1
	for _, cmd := range []FountainCommand{fountainHandshakeFirst, fountainHandshakeSecond} {
		if err := s.sendFrame(ctx, cmd, nil); err != nil {
			var btErr BluetoothError
			if errors.As(err, &btErr) {
				s.client.log.Debugw("BLE handshake frame rejected, continuing with cloud data", "err", err)
				return nil
			}
			return err
		}
	}
	return nil
}

// disconnect closes the relay link and zeroes the sequence counter. It
// runs only when connect succeeded, waits for the link to settle, and
// never escalates failures: a stuck link self-heals on the next connect.
func (s *bleSession) disconnect(ctx context.Context) {
	defer func() { s.seq = 0 }()
	if !s.linkOpen {
		return
	}
	s.linkOpen = false

	// Best-effort even when the caller's context is already cancelled.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), bleSettleDelay+s.client.cfg.Timeout)
		defer cancel()
	}
	if err := s.client.sleep(ctx, bleSettleDelay); err != nil {
		return
	}
	if _, err := s.client.post(ctx, epBLECancel, s.identifiers()); err != nil {
		s.client.log.Warnw("BLE disconnect failed, link will recover on next connect", "err", err)
	}
}

// openLink drives ResolvingRelay ... Polling: connect and poll with the
// shared retry policy, then wait for the link to settle.
func (s *bleSession) openLink(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.poll(ctx); err != nil {
		return err
	}
	s.client.relays.NotePollSuccess(s.bleID)
	return s.client.sleep(ctx, bleSettleDelay)
}
