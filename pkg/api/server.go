// Package api exposes the exchange over REST and WebSocket. It is a thin
// translation layer: every operation delegates to the exchange facade and
// every push message originates from its event feeds.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/umix-labs/umix-core/pkg/exchange"
	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	exchange *exchange.Exchange
	router   *mux.Router
	hub      *Hub
	http     *http.Server
	log      *zap.SugaredLogger
}

// NewServer creates an API server over the given exchange.
func NewServer(x *exchange.Exchange, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		exchange: x,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		log:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Custody
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/balances/{token}/{address}", s.handleGetBalance).Methods("GET")

	// Order book
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orderbook", s.handleGetOrderbook).Methods("GET")

	// Trades
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/trades/execute", s.handleExecuteTrade).Methods("POST")

	// Perpetual swaps
	api.HandleFunc("/positions/open", s.handleOpenPosition).Methods("POST")
	api.HandleFunc("/positions/close", s.handleClosePosition).Methods("POST")
	api.HandleFunc("/positions/{address}", s.handleGetPosition).Methods("GET")

	// Aggregates
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Admin
	api.HandleFunc("/admin/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/admin/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/admin/emergency-withdraw", s.handleEmergencyWithdraw).Methods("POST")
	api.HandleFunc("/admin/liquidate", s.handleLiquidate).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server until ctx is cancelled, then drains
// connections. The WebSocket hub and the event pump stop with it.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	go s.pumpEvents(ctx)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.http = &http.Server{Addr: addr, Handler: c.Handler(s.router)}

	errc := make(chan error, 1)
	go func() {
		s.log.Infow("api server starting", "addr", addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// pumpEvents bridges exchange event feeds onto WebSocket channels.
func (s *Server) pumpEvents(ctx context.Context) {
	deposits := make(chan types.DepositedEvent, 64)
	withdrawals := make(chan types.WithdrawnEvent, 64)
	placed := make(chan types.OrderPlacedEvent, 64)
	cancelled := make(chan types.OrderCancelledEvent, 64)
	executed := make(chan types.TradeExecutedEvent, 64)
	opened := make(chan types.PositionOpenedEvent, 64)
	closed := make(chan types.PositionClosedEvent, 64)

	subs := []interface{ Unsubscribe() }{
		s.exchange.SubscribeDeposited(deposits),
		s.exchange.SubscribeWithdrawn(withdrawals),
		s.exchange.SubscribeOrderPlaced(placed),
		s.exchange.SubscribeOrderCancelled(cancelled),
		s.exchange.SubscribeTradeExecuted(executed),
		s.exchange.SubscribePositionOpened(opened),
		s.exchange.SubscribePositionClosed(closed),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-deposits:
			s.hub.Broadcast("balances", "deposit", ev)
		case ev := <-withdrawals:
			s.hub.Broadcast("balances", "withdraw", ev)
		case ev := <-placed:
			s.hub.Broadcast("orders", "placed", orderInfo(ev.Order))
		case ev := <-cancelled:
			s.hub.Broadcast("orders", "cancelled", ev)
		case ev := <-executed:
			s.hub.Broadcast("trades", "executed", tradeInfo(ev.Trade))
		case ev := <-opened:
			s.hub.Broadcast("positions", "opened", positionInfo(ev.Position))
		case ev := <-closed:
			s.hub.Broadcast("positions", "closed", ev)
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, token, amount, err := custodyArgs(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.exchange.Deposit(trader, token, amount); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, token, amount, err := custodyArgs(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.exchange.Withdraw(trader, token, amount); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, err := parseAddress("token", vars["token"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	trader, err := parseAddress("address", vars["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	respondJSON(w, BalanceResponse{
		Trader:  trader.Hex(),
		Token:   token.Hex(),
		Balance: s.exchange.BalanceOf(token, trader).Dec(),
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var order *types.Order
	switch req.Side {
	case "buy":
		order, err = s.exchange.PlaceBuyOrder(trader, price, amount)
	case "sell":
		order, err = s.exchange.PlaceSellOrder(trader, price, amount)
	default:
		respondError(w, http.StatusBadRequest, "side must be buy or sell", "")
		return
	}
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, orderInfo(order))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.exchange.CancelOrder(trader, req.OrderID); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "cancelled"})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	order := s.exchange.GetOrder(id)
	if order == nil {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderInfo(order))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	bids := s.exchange.ActiveBuyOrders()
	asks := s.exchange.ActiveSellOrders()

	snapshot := OrderbookSnapshot{
		Bids:      make([]OrderInfo, len(bids)),
		Asks:      make([]OrderInfo, len(asks)),
		Timestamp: time.Now().UnixMilli(),
	}
	for i, o := range bids {
		snapshot.Bids[i] = orderInfo(o)
	}
	for i, o := range asks {
		snapshot.Asks[i] = orderInfo(o)
	}
	respondJSON(w, snapshot)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	trades := s.exchange.RecentTrades(limit)
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	buy, buySig, err := signedOrderArgs(req.Buy)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy order", err.Error())
		return
	}
	sell, sellSig, err := signedOrderArgs(req.Sell)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell order", err.Error())
		return
	}

	trade, err := s.exchange.ExecuteTrade(buy, sell, buySig, sellSig)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, tradeInfo(trade))
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	size, err := parseAmount("size", req.Size)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	entry, err := parseAmount("entryPrice", req.EntryPrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	margin, err := parseAmount("margin", req.Margin)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	pos, err := s.exchange.OpenPosition(trader, size, entry, req.IsLong, margin)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, positionInfo(pos))
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	exit, err := optionalAmount("exitPrice", req.ExitPrice)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	payout, err := s.exchange.ClosePosition(trader, exit)
	if err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, PayoutResponse{Trader: trader.Hex(), Payout: payout.Dec()})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	trader, err := parseAddress("address", mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	pos := s.exchange.GetPosition(trader)
	if pos == nil {
		respondError(w, http.StatusNotFound, "no open position", "")
		return
	}
	respondJSON(w, positionInfo(pos))
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.exchange.Statistics()
	respondJSON(w, StatisticsResponse{
		ActiveBuyOrders:  stats.ActiveBuyOrders,
		ActiveSellOrders: stats.ActiveSellOrders,
		TotalTrades:      stats.TotalTrades,
		Volume:           stats.Volume.Dec(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	if err := s.exchange.Pause(caller); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	if err := s.exchange.Resume(caller); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "resumed"})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	if err := s.exchange.EmergencyWithdraw(caller, token, amount); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	trader, err := parseAddress("trader", req.Trader)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	markPrice, err := optionalAmount("price", req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	if err := s.exchange.LiquidatePosition(caller, trader, markPrice); err != nil {
		respondExchangeError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "liquidated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func (s *Server) adminCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return common.Address{}, false
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return common.Address{}, false
	}
	return caller, true
}

func custodyArgs(req DepositRequest) (trader, token common.Address, amount *uint256.Int, err error) {
	trader, err = parseAddress("trader", req.Trader)
	if err != nil {
		return
	}
	token, err = parseAddress("token", req.Token)
	if err != nil {
		return
	}
	amount, err = parseAmount("amount", req.Amount)
	return
}

func signedOrderArgs(p SignedOrderPayload) (*types.SignedOrder, []byte, error) {
	trader, err := parseAddress("trader", p.Trader)
	if err != nil {
		return nil, nil, err
	}
	base, err := parseAddress("baseToken", p.BaseToken)
	if err != nil {
		return nil, nil, err
	}
	quote, err := parseAddress("quoteToken", p.QuoteToken)
	if err != nil {
		return nil, nil, err
	}
	price, err := parseAmount("price", p.Price)
	if err != nil {
		return nil, nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := parseAmount("nonce", p.Nonce)
	if err != nil {
		return nil, nil, err
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid signature: %w", err)
	}

	return &types.SignedOrder{
		Trader:     trader,
		BaseToken:  base,
		QuoteToken: quote,
		Price:      price,
		Amount:     amount,
		Nonce:      nonce,
		IsBuy:      p.IsBuy,
	}, sig, nil
}

// optionalAmount is parseAmount for fields where empty means unset.
func optionalAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(field, s)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}

// respondExchangeError maps the engine's error taxonomy onto HTTP codes.
func respondExchangeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, types.ErrNotAuthorized), errors.Is(err, types.ErrNotOrderOwner):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrNoOpenPosition), errors.Is(err, types.ErrOrderNotActive):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrNonceUsed):
		status = http.StatusConflict
	case errors.Is(err, types.ErrPaused):
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, err.Error(), "")
}
