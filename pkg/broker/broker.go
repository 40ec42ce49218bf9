// Package broker is a concrete model.QuoteProvider (C2) for the Angel One
// SmartAPI brokerage. Grounded on the teacher's pkg/smartconnect client:
// same route table / header / doRequest shape and the same TOTP login flow
// from cmd/mdengine's warm-up loop (totp.GenerateCode + GenerateSession with
// backoff retry), trimmed to the three read-only endpoints C2 actually
// needs and renamed to satisfy model.QuoteProvider. Order placement, GTT,
// margin, eDIS and brokerage-estimate routes have no caller in this system
// (nothing here places or manages orders) and are dropped rather than kept
// unused.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"nsewatch/internal/model"
)

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.refresh":      "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
	"api.market.data":  "/rest/secure/angelbroking/market/v1/quote",
	"api.search.scrip": "/rest/secure/angelbroking/order/v1/searchScrip",
}

// Config holds the brokerage credentials and connection tuning.
type Config struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string

	RootURL string // default https://apiconnect.angelone.in
	Timeout time.Duration

	// Exchange is the exchange segment SearchScrip resolves the universe
	// against (spec universe is NSE cash + derivatives).
	Exchange string

	// Universe is the watchlist InstrumentMetadata resolves symbol->token
	// for; typically the composition root's configured symbol list.
	Universe []string
}

func (c Config) withDefaults() Config {
	if c.RootURL == "" {
		c.RootURL = "https://apiconnect.angelone.in"
	}
	if c.Timeout == 0 {
		c.Timeout = 7 * time.Second
	}
	if c.Exchange == "" {
		c.Exchange = "NSE"
	}
	return c
}

type instrumentToken struct {
	model.Instrument
	token string
}

// Client is a model.QuoteProvider backed by Angel One SmartAPI.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	feedToken    string

	tokMu   sync.RWMutex
	byToken map[string]instrumentToken // symbol -> token
}

// New builds a Client. Login must be called (and should succeed) before
// QuoteBatch/Historical/InstrumentMetadata are usable.
func New(cfg Config, log *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
		byToken:    make(map[string]instrumentToken),
	}
}

// Login generates a fresh TOTP code and establishes a session, retrying
// with exponential backoff on transient failure — the same shape as the
// teacher's pre-market warm-up loop.
func (c *Client) Login(ctx context.Context) error {
	backoff := 30 * time.Second
	const maxBackoff = 5 * time.Minute

	for {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err == nil {
			if err = c.generateSession(ctx, code); err == nil {
				return nil
			}
		}
		if c.log != nil {
			c.log.Warn("broker: login failed, retrying", slog.Any("err", err), slog.Duration("backoff", backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) generateSession(ctx context.Context, totpCode string) error {
	res, err := c.post(ctx, "api.login", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       totpCode,
	})
	if err != nil {
		return err
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return fmt.Errorf("broker: unexpected login response shape")
	}

	c.mu.Lock()
	c.accessToken, _ = data["jwtToken"].(string)
	c.refreshToken, _ = data["refreshToken"].(string)
	c.feedToken, _ = data["feedToken"].(string)
	c.mu.Unlock()

	if c.accessToken == "" {
		return fmt.Errorf("broker: empty access token in login response")
	}
	return nil
}

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	h.Set("X-PrivateKey", c.cfg.APIKey)
	h.Set("X-ClientLocalIP", "127.0.0.1")
	h.Set("X-ClientPublicIP", "127.0.0.1")
	h.Set("X-MACAddress", "00:00:00:00:00:00")

	c.mu.RLock()
	tok := c.accessToken
	c.mu.RUnlock()
	if tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}

func (c *Client) doRequest(ctx context.Context, method, route string, params map[string]any) (map[string]any, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("broker: unknown route %q", route)
	}
	fullURL := strings.TrimRight(c.cfg.RootURL, "/") + uri

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			fullURL += "?" + q.Encode()
		}
	} else {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("broker: marshal params: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("broker: build request: %w", err)
	}
	req.Header = c.requestHeaders()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: request %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("broker: read response: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("broker: parse response: %w", err)
	}

	if et, _ := out["error_type"].(string); et != "" {
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("broker: %s: %s", et, msg)
	}
	if st, ok := out["status"].(bool); ok && !st {
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("broker: request failed: %s", msg)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	return c.doRequest(ctx, http.MethodGet, route, params)
}
func (c *Client) post(ctx context.Context, route string, params map[string]any) (map[string]any, error) {
	return c.doRequest(ctx, http.MethodPost, route, params)
}

// InstrumentMetadata resolves every symbol in cfg.Universe against
// SearchScrip, caching each result's exchange/token for QuoteBatch and
// Historical to use.
func (c *Client) InstrumentMetadata(ctx context.Context) ([]model.Instrument, error) {
	var out []model.Instrument
	for _, sym := range c.cfg.Universe {
		res, err := c.post(ctx, "api.search.scrip", map[string]any{
			"exchange":    c.cfg.Exchange,
			"searchscrip": sym,
		})
		if err != nil {
			if c.log != nil {
				c.log.Warn("broker: search scrip failed", slog.String("symbol", sym), slog.Any("err", err))
			}
			continue
		}
		rows, _ := res["data"].([]any)
		for _, r := range rows {
			row, ok := r.(map[string]any)
			if !ok {
				continue
			}
			inst := model.Instrument{
				Token:    strField(row, "symboltoken"),
				Symbol:   strField(row, "tradingsymbol"),
				Exchange: strField(row, "exchange"),
				Kind:     model.KindEquity,
			}
			if inst.Symbol == "" || inst.Token == "" {
				continue
			}
			out = append(out, inst)

			c.tokMu.Lock()
			c.byToken[inst.Symbol] = instrumentToken{Instrument: inst, token: inst.Token}
			c.tokMu.Unlock()
		}
	}
	return out, nil
}

func strField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// QuoteBatch fetches full-mode quotes for the requested symbols, grouped
// per exchange the way Angel's market-data endpoint requires.
func (c *Client) QuoteBatch(ctx context.Context, symbols []string) (map[string]model.Quote, error) {
	byExchange := make(map[string][]string)
	for _, sym := range symbols {
		c.tokMu.RLock()
		it, ok := c.byToken[sym]
		c.tokMu.RUnlock()
		if !ok {
			continue
		}
		byExchange[it.Exchange] = append(byExchange[it.Exchange], it.token)
	}

	out := make(map[string]model.Quote)
	for exch, tokens := range byExchange {
		res, err := c.post(ctx, "api.market.data", map[string]any{
			"mode":           "FULL",
			"exchangeTokens": map[string]any{exch: tokens},
		})
		if err != nil {
			return nil, fmt.Errorf("broker: quote batch (%s): %w", exch, err)
		}
		data, _ := res["data"].(map[string]any)
		fetched, _ := data["fetched"].([]any)
		for _, f := range fetched {
			row, ok := f.(map[string]any)
			if !ok {
				continue
			}
			sym := strField(row, "tradingSymbol")
			q := model.Quote{
				Symbol:      sym,
				LastPrice:   floatField(row, "ltp"),
				VolumeToday: int64(floatField(row, "tradeVolume")),
				DayOpen:     floatField(row, "open"),
				DayHigh:     floatField(row, "high"),
				DayLow:      floatField(row, "low"),
				DayClose:    floatField(row, "close"),
				Timestamp:   time.Now(),
			}
			if oi := floatField(row, "opnInterest"); oi != 0 {
				oiInt := int64(oi)
				q.OpenInterest = &oiInt
			}
			out[sym] = q
		}
	}
	return out, nil
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

var intervalNames = map[model.IntervalKind]string{
	model.Interval1m:  "ONE_MINUTE",
	model.Interval5m:  "FIVE_MINUTE",
	model.Interval15m: "FIFTEEN_MINUTE",
	model.Interval1d:  "ONE_DAY",
}

// Historical fetches OHLCV candles for one symbol over [from, to].
func (c *Client) Historical(ctx context.Context, symbol string, interval model.IntervalKind, from, to time.Time) ([]model.Candle, error) {
	c.tokMu.RLock()
	it, ok := c.byToken[symbol]
	c.tokMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: unknown symbol %q (not in instrument metadata)", symbol)
	}

	name, ok := intervalNames[interval]
	if !ok {
		return nil, fmt.Errorf("broker: unsupported interval %q", interval)
	}

	const layout = "2006-01-02 15:04"
	res, err := c.post(ctx, "api.candle.data", map[string]any{
		"exchange":    it.Exchange,
		"symboltoken": it.token,
		"interval":    name,
		"fromdate":    from.Format(layout),
		"todate":      to.Format(layout),
	})
	if err != nil {
		return nil, fmt.Errorf("broker: historical: %w", err)
	}

	rows, _ := res["data"].([]any)
	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		row, ok := r.([]any)
		if !ok || len(row) < 6 {
			continue
		}
		ts, _ := row[0].(string)
		bucket, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		out = append(out, model.Candle{
			Token:       it.token,
			Interval:    interval,
			BucketStart: bucket,
			Open:        toFloat(row[1]),
			High:        toFloat(row[2]),
			Low:         toFloat(row[3]),
			Close:       toFloat(row[4]),
			Volume:      int64(toFloat(row[5])),
		})
	}
	return out, nil
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
