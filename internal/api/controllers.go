package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"signal-core/internal/engine"
	"signal-core/internal/monitor"
	"signal-core/internal/signal"
	"signal-core/pkg/exchanges/common"
)

func (s *Server) index(c *gin.Context) {
	c.String(http.StatusOK, "signal-core %s", s.opts.Version)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"accounts": s.accountNames(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) ping(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	if err := acc.Venue.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "GATEWAY_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) serverTime(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	ms, err := acc.Venue.GetServerTime(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": "GATEWAY_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"serverTime": ms})
}

// message is the webhook entry point.
func (s *Server) message(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload: " + err.Error(),
		})
		return
	}
	if len(req.Report) == 0 && c.ContentType() == binding.MIMEPOSTForm {
		req.Report = c.PostFormMap("report")
	}

	acc, ok := s.account(c, req.Account)
	if !ok {
		return
	}

	var timer *monitor.Timer
	if s.opts.Metrics != nil {
		timer = monitor.NewTimer(s.opts.Metrics.SignalLatency)
	}

	var (
		res engine.Result
		err error
	)
	if req.isStrategy() {
		sig, serr := req.strategySignal()
		if serr != nil {
			err = serr
		} else {
			res, err = acc.Engine.HandleStrategy(c.Request.Context(), sig)
		}
	} else {
		in, ierr := signal.NewIntent(req.params())
		if ierr != nil {
			err = ierr
		} else {
			res, err = acc.Engine.Handle(c.Request.Context(), in)
		}
	}

	if timer != nil {
		timer.Stop()
	}
	if s.opts.Metrics != nil && res.Duplicate {
		s.opts.Metrics.IncrementDuplicate()
	}

	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{
			"code":   code,
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": res.Message,
		"result":  res,
	})
}

// errorStatus maps the engine's error kinds onto HTTP statuses.
func errorStatus(err error) (int, string) {
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, signal.ErrValidation):
		code = "VALIDATION_ERROR"
	case errors.Is(err, signal.ErrPositionState):
		code = "POSITION_STATE"
	case errors.As(err, new(*signal.OverExposureError)):
		code = "OVER_EXPOSURE"
	case errors.Is(err, signal.ErrStateDurability):
		code = "STATE_DURABILITY"
	case errors.Is(err, signal.ErrRiskConfig):
		code = "RISK_CONFIG"
	case errors.Is(err, signal.ErrGateway):
		code = "GATEWAY_ERROR"
	}
	if signal.IsClientError(err) {
		return http.StatusBadRequest, code
	}
	return http.StatusInternalServerError, code
}

// account resolves a label, writing the error response when it is unknown.
func (s *Server) account(c *gin.Context, label string) (Account, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = s.opts.DefaultAccount
	}
	acc, ok := s.opts.Accounts[label]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "UNKNOWN_ACCOUNT",
			"error": "unknown account " + strconv.Quote(label),
		})
		return Account{}, false
	}
	return acc, true
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.accountNames(), "default": s.opts.DefaultAccount})
}

func (s *Server) getAccount(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	snap, err := acc.Engine.AccountSnapshot(c.Request.Context())
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":           acc.Engine.Account(),
		"total_balance":     snap.TotalBalance,
		"available_balance": snap.AvailableBalance,
	})
}

func (s *Server) getPosition(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	snap, err := acc.Engine.Position(c.Request.Context(), strings.ToUpper(c.Param("symbol")))
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": snap.Symbol, "signed_qty": snap.SignedQty})
}

func (s *Server) getState(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	st, err := acc.Engine.State(c.Request.Context(), c.Param("family"), symbol)
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"family":     strings.ToLower(c.Param("family")),
		"symbol":     symbol,
		"flags":      st.Flags,
		"updated_at": st.UpdatedAt,
	})
}

func (s *Server) getOrders(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_LIMIT", "error": "limit must be 1..500"})
		return
	}
	orders, err := acc.Engine.Orders(c.Request.Context(), strings.ToUpper(c.Query("symbol")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(orders))
	for _, o := range orders {
		out = append(out, gin.H{
			"client_id":         o.ClientID,
			"signal_id":         o.SignalID,
			"symbol":            o.Symbol,
			"side":              o.Side,
			"type":              o.Type,
			"qty":               o.Qty,
			"price":             o.Price,
			"stop_price":        o.StopPrice,
			"exchange_order_id": o.ExchangeOrderID,
			"status":            o.Status,
			"error":             o.Error,
			"created_at":        o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getSymbolConfigs(c *gin.Context) {
	acc, ok := s.account(c, c.Query("account"))
	if !ok {
		return
	}
	out := gin.H{}
	for sym, cfg := range acc.Engine.SymbolConfigs() {
		out[sym] = gin.H{"leverage": cfg.Leverage, "margin_mode": cfg.MarginMode}
	}
	c.JSON(http.StatusOK, gin.H{"symbols": out})
}

// weightReporter is implemented by venues that track exchange request weight.
type weightReporter interface {
	WeightUsage() common.WeightUsage
}

func (s *Server) getMetrics(c *gin.Context) {
	out := gin.H{}
	if s.opts.Metrics != nil {
		out["signals"] = s.opts.Metrics.GetSnapshot()
	}
	weights := make(map[string]common.WeightUsage)
	for name, acc := range s.opts.Accounts {
		if wr, ok := acc.Venue.(weightReporter); ok {
			weights[name] = wr.WeightUsage()
		}
	}
	out["exchange_weight"] = weights
	c.JSON(http.StatusOK, out)
}
