package futures_usdt

import (
	"errors"
	"fmt"
	"strings"

	"signal-core/pkg/exchanges/common"
)

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

// FuturesAccountInfo is the subset of /fapi/v2/account the service reads.
type FuturesAccountInfo struct {
	CanTrade           bool           `json:"canTrade"`
	TotalWalletBalance string         `json:"totalWalletBalance"`
	TotalMarginBalance string         `json:"totalMarginBalance"`
	AvailableBalance   string         `json:"availableBalance"`
	UpdateTime         int64          `json:"updateTime"`
	Assets             []AccountAsset `json:"assets"`
	Positions          []PositionRisk `json:"positions"`
}

type AccountAsset struct {
	Asset            string `json:"asset"`
	WalletBalance    string `json:"walletBalance"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	AvailableBalance string `json:"availableBalance"`
}

type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
}

type OpenOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// APIError is a non-2xx Binance response.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance usdt futures %s %s status %d: code=%d msg=%s", e.Method, e.Path, e.HTTPStatus, e.Code, e.Msg)
}

// Binance answers "no need to change" when a setting already holds.
const (
	codeNoNeedChangeMargin  = -4046
	codeNoNeedChangePosSide = -4059
)

// IsNoChange reports whether err only says the requested setting already holds.
func IsNoChange(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == codeNoNeedChangeMargin || apiErr.Code == codeNoNeedChangePosSide ||
		strings.Contains(strings.ToLower(apiErr.Msg), "no need to change")
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}
