package futures_usdt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signal-core/pkg/exchanges/common"
)

const (
	productionURL = "https://fapi.binance.com"
	testnetURL    = "https://testnet.binancefuture.com"
)

// Credentials are the API key pair one client signs with. Each account gets
// its own client; nothing is shared process-wide.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config holds connection settings for a USDT-M futures client.
type Config struct {
	Testnet    bool
	BaseURL    string  // overrides Testnet when set
	RecvWindow int64   // ms
	RPS        float64 // client-side request budget, 0 disables
	Timeout    time.Duration
}

// Client handles Binance USDT-M futures and implements common.Gateway.
type Client struct {
	creds      Credentials
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *common.TimeSync
	weights    *common.WeightTracker
	throttle   *rate.Limiter

	filtersMu sync.RWMutex
	filters   map[string]common.InstrumentFilters
}

var _ common.Gateway = (*Client)(nil)

// NewClient creates a new USDT-M futures client for one credential pair.
func NewClient(creds Credentials, cfg Config) *Client {
	base := productionURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		creds:      creds,
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RPS > 0 {
		c.throttle = rate.NewLimiter(rate.Limit(cfg.RPS), int(cfg.RPS)+1)
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime)
	c.weights = common.NewWeightTracker(2400, time.Minute)
	return c
}

// StartTimeSync keeps the signing clock aligned with the exchange until ctx ends.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// WeightUsage reports the request weight spent in the current minute.
func (c *Client) WeightUsage() common.WeightUsage {
	return c.weights.Usage()
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) requireKeys() error {
	if c.creds.APIKey == "" || c.creds.APISecret == "" {
		return errors.New("binance usdt futures: API key/secret required")
	}
	return nil
}

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil)
	return err
}

// GetServerTime fetches futures server time in ms.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	return res.ServerTime, nil
}

// GetInstrumentFilters returns tick and step size for symbol. The whole
// exchangeInfo document is fetched once and kept.
func (c *Client) GetInstrumentFilters(ctx context.Context, symbol string) (common.InstrumentFilters, error) {
	c.filtersMu.RLock()
	f, ok := c.filters[symbol]
	loaded := c.filters != nil
	c.filtersMu.RUnlock()
	if ok {
		return f, nil
	}
	if !loaded {
		if err := c.loadExchangeInfo(ctx); err != nil {
			return common.InstrumentFilters{}, err
		}
		c.filtersMu.RLock()
		f, ok = c.filters[symbol]
		c.filtersMu.RUnlock()
		if ok {
			return f, nil
		}
	}
	return common.InstrumentFilters{}, fmt.Errorf("binance usdt futures: unknown symbol %s", symbol)
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}
	filters := make(map[string]common.InstrumentFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		f := common.InstrumentFilters{Symbol: s.Symbol}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.TickSize = flt.TickSize
			case "LOT_SIZE":
				f.StepSize = flt.StepSize
			}
		}
		filters[s.Symbol] = f
	}
	c.filtersMu.Lock()
	c.filters = filters
	c.filtersMu.Unlock()
	return nil
}

// SubmitOrder places an order.
func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.requireKeys(); err != nil {
		return common.OrderResult{}, err
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", pick(req.QtyText, req.Qty))

	switch req.Type {
	case common.OrderTypeLimit:
		params.Set("price", pick(req.PriceText, req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		params.Set("stopPrice", pick(req.StopPriceText, req.StopPrice))
		if req.WorkingType != "" {
			params.Set("workingType", req.WorkingType)
		}
	}

	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
	}, nil
}

// CancelAllOpenOrders cancels all open orders for a symbol. Binance answers
// 200 when nothing was open.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if err := c.requireKeys(); err != nil {
		return err
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// GetAccountInfo returns futures account balances and positions.
func (c *Client) GetAccountInfo(ctx context.Context) (*FuturesAccountInfo, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var info FuturesAccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// GetAccountSnapshot reduces the account document to total and available margin.
func (c *Client) GetAccountSnapshot(ctx context.Context) (common.AccountSnapshot, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return common.AccountSnapshot{}, err
	}
	total, err := strconv.ParseFloat(info.TotalMarginBalance, 64)
	if err != nil {
		return common.AccountSnapshot{}, fmt.Errorf("parse totalMarginBalance %q: %w", info.TotalMarginBalance, err)
	}
	avail, err := strconv.ParseFloat(info.AvailableBalance, 64)
	if err != nil {
		return common.AccountSnapshot{}, fmt.Errorf("parse availableBalance %q: %w", info.AvailableBalance, err)
	}
	return common.AccountSnapshot{TotalBalance: total, AvailableBalance: avail}, nil
}

// GetPositions returns position risk rows; symbol optional.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var pos []PositionRisk
	if err := json.Unmarshal(body, &pos); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return pos, nil
}

// GetPosition returns the signed one-way position amount for symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (float64, error) {
	rows, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var qty float64
	for _, p := range rows {
		if p.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil {
			return 0, fmt.Errorf("parse positionAmt %q: %w", p.PositionAmt, err)
		}
		qty += amt
	}
	return qty, nil
}

// GetOpenOrders returns open orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if err := c.requireKeys(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var orders []OpenOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// SetMarginType sets margin type (ISOLATED or CROSSED). An unchanged type is not an error.
func (c *Client) SetMarginType(ctx context.Context, symbol string, marginType common.MarginType) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("marginType", strings.ToUpper(string(marginType)))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params)
	if IsNoChange(err) {
		return nil
	}
	return err
}

// ChangePositionMargin adjusts isolated position margin (mType 1 add, 2 reduce).
func (c *Client) ChangePositionMargin(ctx context.Context, symbol string, amount float64, mType int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("amount", formatFloat(amount))
	params.Set("type", strconv.Itoa(mType))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/positionMargin", params)
	return err
}

// GetPositionMode reports whether hedge (dual side) mode is enabled.
func (c *Client) GetPositionMode(ctx context.Context) (bool, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/positionSide/dual", url.Values{})
	if err != nil {
		return false, err
	}
	var res struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("decode position mode: %w", err)
	}
	return res.DualSidePosition, nil
}

// SetPositionSideDual enables/disables hedge mode.
func (c *Client) SetPositionSideDual(ctx context.Context, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/positionSide/dual", params)
	if IsNoChange(err) {
		return nil
	}
	return err
}

func (c *Client) backoff() time.Duration {
	if c.weights == nil {
		return 0
	}
	return c.weights.Backoff()
}

// wait holds a request until the weight window has room and the local
// throttle admits it.
func (c *Client) wait(ctx context.Context) error {
	if d := c.backoff(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.throttle == nil {
		return nil
	}
	return c.throttle.Wait(ctx)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, http.MethodGet, path)
}

// doSigned stamps timestamp/recvWindow, signs and sends the request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.creds.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	return c.do(req, method, path)
}

func (c *Client) do(req *http.Request, method, path string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.weights != nil {
		c.weights.Observe(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: res.StatusCode, Method: method, Path: path}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, apiErr
	}
	return body, nil
}
