package petkit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Vendor endpoints. BLE paths drive the relay control plane; the rest is
// plain request/response CRUD.
const (
	epRegionServers  = "/regionservers"
	epLogin          = "/user/login"
	epUserDetails    = "/user/details2"
	epDeviceRoster   = "/discovery/device_roster"
	epBLEDevices     = "/ble/ownSupportBleDevices"
	epBLEConnect     = "/ble/connect"
	epBLEPoll        = "/ble/poll"
	epBLECancel      = "/ble/cancel"
	epBLEControl     = "/ble/controlDevice"
	epFountainData   = "/w5/deviceData"
	epDeviceDetail   = "/device_detail"
	epDeviceRecord   = "/getDeviceRecord"
	epStatistic      = "/statistic"
	epControlDevice  = "/controlDevice"
	epUpdateSettings = "/updateSettings"
	epManualFeed     = "/saveDailyFeed"
	epCancelFeed     = "/cancelRealtimeFeed"
	epDesiccantReset = "/desiccantReset"
	epOdorReset      = "/deodorantReset"
	epReplenished    = "/added"
	epSoundList      = "/soundList"
	epCallPet        = "/callPet"
	epPetProps       = "/pet/updatepetprops"
)

// Client identity headers expected by the vendor API.
const (
	headerAccept     = "*/*"
	headerAcceptLang = "en-US;q=1, it-US;q=0.9"
	headerEncoding   = "gzip, deflate"
	headerAPIVersion = "8.28.0"
	headerContent    = "application/x-www-form-urlencoded"
	headerAgent      = "PETKIT/8.28.0 (iPhone; iOS 15.1; Scale/3.00)"
	headerClient     = "ios(15.1;iPhone14,3)"
)

// Accounts registered in these regions fall back to the Asia gateway when
// the region server list has no exact match.
var asiaRegions = map[string]bool{
	"AF": true, "AL": true, "AZ": true, "BH": true, "BD": true, "BT": true,
	"BN": true, "KH": true, "CN": true, "CY": true, "VA": true, "HK": true,
	"IN": true, "ID": true, "IR": true, "IQ": true, "IL": true, "JP": true,
	"JO": true, "KZ": true, "KP": true, "KR": true, "KW": true, "KG": true,
	"LA": true, "LB": true, "LU": true, "MO": true, "MY": true, "MV": true,
	"MN": true, "MM": true, "NP": true, "OM": true, "PK": true, "PH": true,
	"QA": true, "SA": true, "SG": true, "SY": true, "TW": true, "TJ": true,
	"TH": true, "TL": true, "TM": true, "AE": true, "VN": true, "YE": true,
}

const asiaGateway = "http://api.petktasia.com/latest"

type regionServer struct {
	ID      string `json:"id"`
	Gateway string `json:"gateway"`
}

// Client talks to the PetKit cloud API and drives the BLE relay control
// plane for fountains.
type Client struct {
	cfg Config
	log *zap.SugaredLogger

	httpClient *http.Client

	mu          sync.Mutex
	baseURL     string
	token       string
	tokenExpiry time.Time
	userID      string

	relays *relayTracker
	pauses *pauseTracker

	feedMu         sync.Mutex
	lastManualFeed map[int64]string

	slotMu sync.Mutex
	slots  map[int64]*sync.Mutex

	// Injectable for tests; retry and settle delays must be true waits.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client. The session is established lazily on the
// first call that needs a token.
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Client{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		slots:          make(map[int64]*sync.Mutex),
		lastManualFeed: make(map[int64]string),
		now:        time.Now,
		sleep:      sleepContext,
	}
	c.relays = newRelayTracker(c.timeNow)
	c.pauses = newPauseTracker(c.timeNow)
	return c
}

func (c *Client) timeNow() time.Time { return c.now() }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sessionSlot returns the per-appliance mutex guarding BLE sessions. Two
// concurrent sessions for one appliance would corrupt the sequence counter
// and violate the relay's single-link assumption; different appliances
// proceed independently.
func (c *Client) sessionSlot(id int64) *sync.Mutex {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()
	slot, ok := c.slots[id]
	if !ok {
		slot = &sync.Mutex{}
		c.slots[id] = slot
	}
	return slot
}

// Login establishes a vendor session: resolve the regional gateway, then
// exchange MD5-hashed credentials for a session token.
func (c *Client) Login(ctx context.Context) error {
	servers, err := c.regionServers(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("client", headerClient)
	form.Set("encrypt", "1")
	form.Set("oldVersion", headerAPIVersion)
	form.Set("password", md5Hex(c.cfg.Password))
	form.Set("username", c.cfg.Username)

	result, err := c.postURL(ctx, c.cfg.LoginURL+epLogin, form)
	if err != nil {
		return fmt.Errorf("petkit login: %w", err)
	}

	var login struct {
		Session struct {
			ID        string `json:"id"`
			UserID    string `json:"userId"`
			ExpiresIn int    `json:"expiresIn"`
		} `json:"session"`
		User struct {
			Account struct {
				Region string `json:"region"`
			} `json:"account"`
		} `json:"user"`
	}
	if err := json.Unmarshal(result, &login); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = login.Session.ID
	c.userID = login.Session.UserID
	c.tokenExpiry = c.now().Add(time.Duration(login.Session.ExpiresIn) * time.Second)
	if c.cfg.BaseURL == "" {
		c.baseURL = resolveGateway(servers, login.User.Account.Region)
	}
	return nil
}

func (c *Client) regionServers(ctx context.Context) ([]regionServer, error) {
	result, err := c.postURL(ctx, c.cfg.PassportURL+epRegionServers, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("fetch region servers: %w", err)
	}
	var resp struct {
		List []regionServer `json:"list"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("parse region servers: %w", err)
	}
	return resp.List, nil
}

func resolveGateway(servers []regionServer, region string) string {
	for _, server := range servers {
		if server.ID == region {
			return strings.TrimSuffix(server.Gateway, "/")
		}
	}
	if asiaRegions[region] {
		return asiaGateway
	}
	return defaultLoginURL
}

// ensureSession re-logs in when there is no token or it expires within the
// next hour.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	expiry := c.tokenExpiry
	c.mu.Unlock()

	if token != "" && expiry.Sub(c.now()) >= time.Hour {
		return nil
	}
	return c.Login(ctx)
}

// post calls an API endpoint relative to the resolved gateway with the
// session headers attached.
func (c *Client) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	base := c.baseURL
	token := c.token
	c.mu.Unlock()

	return c.postURLWithSession(ctx, base+path, form, token)
}

func (c *Client) postURL(ctx context.Context, fullURL string, form url.Values) (json.RawMessage, error) {
	return c.postURLWithSession(ctx, fullURL, form, "")
}

func (c *Client) postURLWithSession(ctx context.Context, fullURL string, form url.Values, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", headerAccept)
	req.Header.Set("Accept-Language", headerAcceptLang)
	req.Header.Set("Accept-Encoding", headerEncoding)
	req.Header.Set("X-Api-Version", headerAPIVersion)
	req.Header.Set("Content-Type", headerContent)
	req.Header.Set("User-Agent", headerAgent)
	req.Header.Set("X-Client", headerClient)
	if token != "" {
		req.Header.Set("X-Session", token)
		req.Header.Set("F-Session", token)
		req.Header.Set("X-TimezoneId", c.cfg.Timezone)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("petkit api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse petkit response: %w", err)
	}
	if envelope.Error != nil {
		return nil, mapAPIError(envelope.Error.Code, envelope.Error.Msg)
	}
	return envelope.Result, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func dayStamp(t time.Time) string {
	return t.Format("20060102")
}
