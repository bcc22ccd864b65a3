// Package bybit adapts the Bybit v5 unified trading API to the venue
// gateway port. It trades linear USDT perpetuals.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"signal-relay/internal/models"
	"signal-relay/internal/venue"
)

const category = "linear"

// Bybit error codes the gateway classifies
const (
	errCodeInsufficientBalance = 110007
	errCodeOrderNotFound       = 110001
	errCodeInvalidQuantity     = 110020
	errCodeInvalidPrice        = 110021
	errCodeReduceOnlyRejected  = 110017
	errCodeMarketClosed        = 110043
)

// Config holds the connection settings
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	// Leverage used for margin estimates. Defaults to 10.
	Leverage float64
	// SettleCoin scopes open order and position queries. Defaults to USDT.
	SettleCoin string
	// AccountID labels this account in persistence and notifications
	AccountID string
}

var _ venue.Gateway = (*Gateway)(nil)

// Gateway implements venue.Gateway over the Bybit HTTP API
type Gateway struct {
	httpClient *bybit_api.Client
	cfg        Config

	mu      sync.Mutex
	tickets map[int64]string // ticket -> bybit order id
}

// New creates a gateway for the configured environment
func New(cfg Config) *Gateway {
	var baseURL string
	if cfg.Demo {
		baseURL = "https://api-demo.bybit.com"
	} else if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	} else {
		baseURL = bybit_api.MAINNET
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 10
	}
	if cfg.SettleCoin == "" {
		cfg.SettleCoin = "USDT"
	}

	return &Gateway{
		httpClient: bybit_api.NewBybitHttpClient(
			cfg.APIKey,
			cfg.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		cfg:     cfg,
		tickets: make(map[int64]string),
	}
}

// parseResult checks the API envelope and unmarshals its result payload
func parseResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return classifyAPIError(serverResp.RetCode, serverResp.RetMsg)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return json.Unmarshal(resultBytes, out)
}

// classifyAPIError maps Bybit return codes to the venue error taxonomy
func classifyAPIError(code int, msg string) error {
	switch code {
	case errCodeInsufficientBalance:
		return fmt.Errorf("%s (code %d): %w", msg, code, venue.ErrInsufficientMargin)
	case errCodeOrderNotFound:
		return fmt.Errorf("%s (code %d): %w", msg, code, venue.ErrOrderNotFound)
	case errCodeInvalidQuantity, errCodeInvalidPrice, errCodeReduceOnlyRejected, errCodeMarketClosed:
		return &venue.RejectError{Code: code, Reason: msg}
	}
	if code >= 110000 && code < 111000 {
		// Order-level failures are rejections the fallback ladder may recover
		return &venue.RejectError{Code: code, Reason: msg}
	}
	return fmt.Errorf("bybit API error %d: %s", code, msg)
}

// ticketFor maps a Bybit order id onto a stable numeric ticket
func (g *Gateway) ticketFor(orderID string) int64 {
	if n, err := strconv.ParseInt(orderID, 10, 64); err == nil && n > 0 {
		g.remember(n, orderID)
		return n
	}
	h := fnv.New64a()
	h.Write([]byte(orderID))
	ticket := int64(h.Sum64() & 0x7fffffffffffffff)
	g.remember(ticket, orderID)
	return ticket
}

func (g *Gateway) remember(ticket int64, orderID string) {
	g.mu.Lock()
	g.tickets[ticket] = orderID
	g.mu.Unlock()
}

func (g *Gateway) orderIDFor(ticket int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.tickets[ticket]
	if !ok {
		return "", fmt.Errorf("ticket %d: %w", ticket, venue.ErrOrderNotFound)
	}
	return id, nil
}

func (g *Gateway) AccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	params := map[string]interface{}{"accountType": "UNIFIED"}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account wallet: %w", err)
	}

	var wallet struct {
		List []struct {
			TotalEquity           string `json:"totalEquity"`
			TotalWalletBalance    string `json:"totalWalletBalance"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	}
	if err := parseResult(result, &wallet); err != nil {
		return nil, err
	}
	if len(wallet.List) == 0 {
		return nil, fmt.Errorf("empty wallet response")
	}

	w := wallet.List[0]
	return &models.AccountInfo{
		ID:         g.cfg.AccountID,
		Currency:   g.cfg.SettleCoin,
		Balance:    parseFloat(w.TotalWalletBalance),
		Equity:     parseFloat(w.TotalEquity),
		FreeMargin: parseFloat(w.TotalAvailableBalance),
	}, nil
}

type instrumentEntry struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		MinOrderQty string `json:"minOrderQty"`
		MaxOrderQty string `json:"maxOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
}

func (g *Gateway) Instruments(ctx context.Context) ([]models.InstrumentInfo, error) {
	params := map[string]interface{}{
		"category": category,
		"limit":    1000,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", err)
	}

	var payload struct {
		List []instrumentEntry `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return nil, err
	}

	out := make([]models.InstrumentInfo, 0, len(payload.List))
	for _, e := range payload.List {
		if !strings.HasSuffix(e.Symbol, g.cfg.SettleCoin) {
			continue
		}
		out = append(out, convertInstrument(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *Gateway) Instrument(ctx context.Context, symbol string) (*models.InstrumentInfo, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", symbol, err)
	}

	var payload struct {
		List []instrumentEntry `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return nil, err
	}
	if len(payload.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	inst := convertInstrument(payload.List[0])
	return &inst, nil
}

func convertInstrument(e instrumentEntry) models.InstrumentInfo {
	point := parseFloat(e.PriceFilter.TickSize)
	return models.InstrumentInfo{
		Symbol:     e.Symbol,
		Digits:     decimalsOf(e.PriceFilter.TickSize),
		Point:      point,
		VolumeMin:  parseFloat(e.LotSizeFilter.MinOrderQty),
		VolumeMax:  parseFloat(e.LotSizeFilter.MaxOrderQty),
		VolumeStep: parseFloat(e.LotSizeFilter.QtyStep),
		// Linear contracts settle in the quote coin, so one unit of volume
		// earns one tick per tick of price movement.
		MoneyPerPointPerLot: point,
		StopLevelPoints:     0,
		TradingEnabled:      e.Status == "Trading",
		FillPolicies: []models.FillPolicy{
			models.FillPolicyIOC,
			models.FillPolicyFOK,
			models.FillPolicyReturn,
		},
	}
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (float64, float64, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get ticker %s: %w", symbol, err)
	}

	var payload struct {
		List []struct {
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return 0, 0, err
	}
	if len(payload.List) == 0 {
		return 0, 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return parseFloat(payload.List[0].Bid1Price), parseFloat(payload.List[0].Ask1Price), nil
}

func (g *Gateway) Candles(ctx context.Context, symbol string, count int) ([]models.Candle, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"interval": "60",
		"limit":    count,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines %s: %w", symbol, err)
	}

	var payload struct {
		List [][]string `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return nil, err
	}

	// Bybit returns newest first; the sizing engine wants oldest first.
	candles := make([]models.Candle, 0, len(payload.List))
	for i := len(payload.List) - 1; i >= 0; i-- {
		row := payload.List[i]
		if len(row) < 5 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		candles = append(candles, models.Candle{
			Time:  time.UnixMilli(ts),
			Open:  parseFloat(row[1]),
			High:  parseFloat(row[2]),
			Low:   parseFloat(row[3]),
			Close: parseFloat(row[4]),
		})
	}
	return candles, nil
}

type orderEntry struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	LeavesQty   string `json:"leavesQty"`
	StopLoss    string `json:"stopLoss"`
	TakeProfit  string `json:"takeProfit"`
	TriggerPrice string `json:"triggerPrice"`
}

func (g *Gateway) OpenOrders(ctx context.Context) ([]models.PendingOrder, error) {
	params := map[string]interface{}{
		"category":   category,
		"settleCoin": g.cfg.SettleCoin,
		"openOnly":   0,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}

	var payload struct {
		List []orderEntry `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return nil, err
	}

	out := make([]models.PendingOrder, 0, len(payload.List))
	for _, e := range payload.List {
		out = append(out, g.convertOrder(e))
	}
	return out, nil
}

func (g *Gateway) convertOrder(e orderEntry) models.PendingOrder {
	price := parseFloat(e.Price)
	if tp := parseFloat(e.TriggerPrice); tp > 0 {
		price = tp
	}
	return models.PendingOrder{
		Ticket:          g.ticketFor(e.OrderID),
		Instrument:      e.Symbol,
		Kind:            convertOrderKind(e),
		Side:            models.Side(e.Side),
		EntryPrice:      price,
		VolumeInitial:   parseFloat(e.Qty),
		VolumeRemaining: parseFloat(e.LeavesQty),
		StopLoss:        parseFloat(e.StopLoss),
		TakeProfit:      parseFloat(e.TakeProfit),
	}
}

func convertOrderKind(e orderEntry) models.OrderKind {
	hasTrigger := parseFloat(e.TriggerPrice) > 0
	switch {
	case hasTrigger && e.OrderType == "Limit":
		return models.OrderKindStopLimit
	case hasTrigger:
		return models.OrderKindStop
	case e.OrderType == "Limit":
		return models.OrderKindLimit
	default:
		return models.OrderKindMarket
	}
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]models.Position, error) {
	params := map[string]interface{}{
		"category":   category,
		"settleCoin": g.cfg.SettleCoin,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var payload struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Size       string `json:"size"`
			AvgPrice   string `json:"avgPrice"`
			StopLoss   string `json:"stopLoss"`
			TakeProfit string `json:"takeProfit"`
			PositionIdx int   `json:"positionIdx"`
		} `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return nil, err
	}

	out := make([]models.Position, 0, len(payload.List))
	for _, e := range payload.List {
		size := parseFloat(e.Size)
		if size <= 0 {
			continue
		}
		out = append(out, models.Position{
			Ticket:     g.positionTicket(e.Symbol, e.PositionIdx),
			Instrument: e.Symbol,
			Side:       models.Side(e.Side),
			Volume:     size,
			EntryPrice: parseFloat(e.AvgPrice),
			StopLoss:   parseFloat(e.StopLoss),
			TakeProfit: parseFloat(e.TakeProfit),
		})
	}
	return out, nil
}

// positionTicket derives a stable ticket for a one-way mode position, which
// Bybit identifies only by symbol and index
func (g *Gateway) positionTicket(symbol string, idx int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "pos:%s:%d", symbol, idx)
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func (g *Gateway) OrderState(ctx context.Context, ticket int64) (models.OrderState, error) {
	orderID, err := g.orderIDFor(ticket)
	if err != nil {
		return "", err
	}

	params := map[string]interface{}{
		"category": category,
		"orderId":  orderID,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get order history: %w", err)
	}

	var payload struct {
		List []orderEntry `json:"list"`
	}
	if err := parseResult(result, &payload); err != nil {
		return "", err
	}
	if len(payload.List) == 0 {
		return "", fmt.Errorf("order %s: %w", orderID, venue.ErrOrderNotFound)
	}
	return convertOrderStatus(payload.List[0].OrderStatus), nil
}

func convertOrderStatus(status string) models.OrderState {
	switch status {
	case "Filled":
		return models.OrderStateFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return models.OrderStateCancelled
	case "Rejected":
		return models.OrderStateRejected
	case "Deactivated", "Expired":
		return models.OrderStateExpired
	default:
		return models.OrderStateOpen
	}
}

// MarginRequired estimates initial margin as notional over leverage
func (g *Gateway) MarginRequired(ctx context.Context, symbol string, side models.Side, volume, price float64) (float64, error) {
	if price <= 0 {
		_, ask, err := g.Quote(ctx, symbol)
		if err != nil {
			return 0, err
		}
		price = ask
	}
	return price * volume / g.cfg.Leverage, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, spec venue.OrderSpec) (*venue.SubmitResult, error) {
	params := map[string]interface{}{
		"category": category,
		"symbol":   spec.Instrument,
		"side":     string(spec.Side),
		"qty":      formatFloat(spec.Volume),
	}

	switch spec.Kind {
	case models.OrderKindMarket:
		params["orderType"] = "Market"
	case models.OrderKindLimit:
		params["orderType"] = "Limit"
		params["price"] = formatFloat(spec.Price)
	case models.OrderKindStop:
		params["orderType"] = "Market"
		params["triggerPrice"] = formatFloat(spec.Price)
		params["triggerDirection"] = triggerDirection(spec.Side)
	case models.OrderKindStopLimit:
		params["orderType"] = "Limit"
		params["price"] = formatFloat(spec.Price)
		params["triggerPrice"] = formatFloat(spec.Price)
		params["triggerDirection"] = triggerDirection(spec.Side)
	}

	if tif := convertFillPolicy(spec.FillPolicy, spec.Kind); tif != "" {
		params["timeInForce"] = tif
	}
	if spec.Kind.IsImmediate() && spec.SlippageTolerance > 0 {
		// One point equals one tick on linear contracts.
		params["slippageToleranceType"] = "TickSize"
		params["slippageTolerance"] = formatFloat(spec.SlippageTolerance)
	}
	if spec.StopLoss > 0 {
		params["stopLoss"] = formatFloat(spec.StopLoss)
	}
	if spec.TakeProfit > 0 {
		params["takeProfit"] = formatFloat(spec.TakeProfit)
	}
	if spec.Comment != "" {
		params["orderLinkId"] = sanitizeLinkID(spec.Comment)
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var placed struct {
		OrderID string `json:"orderId"`
	}
	if err := parseResult(result, &placed); err != nil {
		return nil, err
	}

	ticket := g.ticketFor(placed.OrderID)
	res := &venue.SubmitResult{OrderTicket: ticket}
	if spec.Kind.IsImmediate() {
		res.PositionTicket = g.positionTicket(spec.Instrument, 0)
		res.FilledVolume = spec.Volume
	}
	return res, nil
}

func triggerDirection(side models.Side) int {
	// Stop orders trigger when price moves against the resting side's favor:
	// rising for buys, falling for sells.
	if side == models.SideBuy {
		return 1
	}
	return 2
}

func convertFillPolicy(p models.FillPolicy, kind models.OrderKind) string {
	switch p {
	case models.FillPolicyIOC:
		return "IOC"
	case models.FillPolicyFOK:
		return "FOK"
	case models.FillPolicyReturn:
		if kind.IsImmediate() {
			return "IOC"
		}
		return "GTC"
	default:
		return ""
	}
}

func (g *Gateway) ModifyOrder(ctx context.Context, ticket int64, price, sl, tp float64) error {
	orderID, err := g.orderIDFor(ticket)
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"category": category,
		"orderId":  orderID,
	}
	if price > 0 {
		params["price"] = formatFloat(price)
	}
	if sl > 0 {
		params["stopLoss"] = formatFloat(sl)
	}
	if tp > 0 {
		params["takeProfit"] = formatFloat(tp)
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).AmendOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to amend order: %w", err)
	}
	var out struct{}
	return parseResult(result, &out)
}

func (g *Gateway) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	symbol, err := g.symbolOfPosition(ctx, ticket)
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"category":    category,
		"symbol":      symbol,
		"positionIdx": 0,
	}
	if sl > 0 {
		params["stopLoss"] = formatFloat(sl)
	}
	if tp > 0 {
		params["takeProfit"] = formatFloat(tp)
	}

	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
	if err != nil {
		return fmt.Errorf("failed to set trading stop: %w", err)
	}
	var out struct{}
	return parseResult(result, &out)
}

// symbolOfPosition reverses positionTicket by scanning current positions
func (g *Gateway) symbolOfPosition(ctx context.Context, ticket int64) (string, error) {
	positions, err := g.OpenPositions(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return p.Instrument, nil
		}
	}
	return "", fmt.Errorf("position %d: %w", ticket, venue.ErrOrderNotFound)
}

func (g *Gateway) CancelOrder(ctx context.Context, ticket int64) error {
	orderID, err := g.orderIDFor(ticket)
	if err != nil {
		return err
	}

	params := map[string]interface{}{
		"category": category,
		"orderId":  orderID,
	}
	result, err := g.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	var out struct{}
	return parseResult(result, &out)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func decimalsOf(tick string) int {
	if i := strings.IndexByte(tick, '.'); i >= 0 {
		return len(strings.TrimRight(tick[i+1:], "0"))
	}
	return 0
}

// sanitizeLinkID trims a comment into a valid orderLinkId
func sanitizeLinkID(comment string) string {
	var b strings.Builder
	for _, c := range comment {
		if b.Len() >= 36 {
			break
		}
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
