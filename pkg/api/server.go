// Package api exposes the exchange engine over REST and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/otc-labs/otcx/pkg/exchange"
	"github.com/otc-labs/otcx/pkg/exchange/order"
	"github.com/otc-labs/otcx/pkg/exchange/pair"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	engine  *exchange.Engine
	router  *mux.Router
	hub     *Hub
	origins []string
	log     *zap.SugaredLogger
}

// NewServer creates a new API server around the engine. Callers are
// identified by an address field in each request body; transport-level
// authentication sits in front of this server.
func NewServer(engine *exchange.Engine, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:  engine,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		origins: allowedOrigins,
		log:     log,
	}
	s.setupRoutes()
	return s
}

// Notifier returns an exchange.Notifier that broadcasts engine events to
// WebSocket subscribers.
func (s *Server) Notifier() exchange.Notifier {
	return &eventBridge{hub: s.hub}
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Observer endpoints
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{id}", s.handleGetPair).Methods("GET")
	api.HandleFunc("/balances/{asset}/{holder}", s.handleGetBalance).Methods("GET")

	// Order lifecycle
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/take", s.handleTakeOrder).Methods("POST")
	api.HandleFunc("/orders/take-batch", s.handleTakeOrders).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/cancel-batch", s.handleCancelOrders).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ExchangeStatus{
		Paused:     s.engine.IsPaused(),
		OpenOrders: s.engine.GetOrderCount(),
		Pairs:      s.engine.Pairs().Count(),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHash(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	o, err := s.engine.GetOrder(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	pairs := s.engine.Pairs().List()
	response := make([]PairInfo, len(pairs))
	for i, p := range pairs {
		response[i] = pairInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHash(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid pair id", "")
		return
	}
	p, ok := s.engine.Pairs().Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "pair not found", "")
		return
	}
	respondJSON(w, pairInfo(p))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["asset"]) || !common.IsHexAddress(vars["holder"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	assetAddr := common.HexToAddress(vars["asset"])
	holder := common.HexToAddress(vars["holder"])

	ledger := s.engine.Ledger()
	respondJSON(w, BalanceInfo{
		Asset:       assetAddr.Hex(),
		Holder:      holder.Hex(),
		Available:   ledger.AvailableBalance(assetAddr, holder).String(),
		Blocked:     ledger.BlockedBalance(assetAddr, holder).String(),
		Whitelisted: ledger.IsWhitelisted(assetAddr, holder),
	})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	id, ok := parseHash(req.ID)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	sellAsset, ok := parseAddress(req.SellAsset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sellAsset", "")
		return
	}
	buyAsset, ok := parseAddress(req.BuyAsset)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid buyAsset", "")
		return
	}
	sellAmount, ok := parseAmount(req.SellAmount)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid sellAmount", "")
		return
	}
	buyAmount, ok := parseAmount(req.BuyAmount)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid buyAmount", "")
		return
	}
	onBehalf, ok := parseOptionalAddress(req.OnBehalfOf)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid onBehalfOf", "")
		return
	}
	taker, ok := parseOptionalAddress(req.SpecificTaker)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid specificTaker", "")
		return
	}

	err := s.engine.MakeOrder(caller, exchange.MakeOrderRequest{
		ID:            id,
		SpecificTaker: taker,
		Principal:     onBehalf,
		SellAsset:     sellAsset,
		SellAmount:    sellAmount,
		BuyAsset:      buyAsset,
		BuyAmount:     buyAmount,
		Expiry:        req.Expiry,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted", OrderID: id.Hex()})
}

func (s *Server) handleTakeOrder(w http.ResponseWriter, r *http.Request) {
	var req TakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	id, ok := parseHash(req.OrderID)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	quantity, ok := parseAmount(req.Quantity)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid quantity", "")
		return
	}
	onBehalf, ok := parseOptionalAddress(req.OnBehalfOf)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid onBehalfOf", "")
		return
	}

	if err := s.engine.TakeOrder(caller, id, onBehalf, quantity, req.Expiry); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted", OrderID: id.Hex()})
}

func (s *Server) handleTakeOrders(w http.ResponseWriter, r *http.Request) {
	var req TakeOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}

	ids := make([]common.Hash, len(req.Orders))
	onBehalf := make([]common.Address, len(req.Orders))
	quantities := make([]*big.Int, len(req.Orders))
	for i, leg := range req.Orders {
		id, ok := parseHash(leg.OrderID)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid order id", leg.OrderID)
			return
		}
		q, ok := parseAmount(leg.Quantity)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid quantity", leg.Quantity)
			return
		}
		b, ok := parseOptionalAddress(leg.OnBehalfOf)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid onBehalfOf", leg.OnBehalfOf)
			return
		}
		ids[i], quantities[i], onBehalf[i] = id, q, b
	}

	if err := s.engine.TakeOrders(caller, ids, onBehalf, quantities, req.Expiry); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted"})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	id, ok := parseHash(req.OrderID)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}

	if err := s.engine.CancelOrder(caller, id); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted", OrderID: id.Hex()})
}

func (s *Server) handleCancelOrders(w http.ResponseWriter, r *http.Request) {
	var req CancelOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}
	ids := make([]common.Hash, len(req.OrderIDs))
	for i, raw := range req.OrderIDs {
		id, ok := parseHash(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid order id", raw)
			return
		}
		ids[i] = id
	}

	if err := s.engine.CancelOrders(caller, ids); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderInfo(o *order.Order) OrderInfo {
	info := OrderInfo{
		ID:            o.ID.Hex(),
		PairID:        o.PairID.Hex(),
		Maker:         o.Maker.Hex(),
		SellAsset:     o.SellAsset.Hex(),
		SellAmount:    o.SellOriginal.String(),
		SellRemaining: o.SellRemaining.String(),
		BuyAsset:      o.BuyAsset.Hex(),
		BuyAmount:     o.BuyOriginal.String(),
		Expiry:        o.Expiry,
		FrozenOnMake:  o.FrozenOnMake,
		CreatedAt:     o.CreatedAt,
	}
	if o.HasSpecificTaker() {
		info.SpecificTaker = o.SpecificTaker.Hex()
	}
	return info
}

func pairInfo(p pair.Pair) PairInfo {
	return PairInfo{
		ID:         p.ID.Hex(),
		BaseAsset:  p.BaseAsset.Hex(),
		QuoteAsset: p.QuoteAsset.Hex(),
		Frozen:     p.Frozen,
	}
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseOptionalAddress treats an empty string as the zero address.
func parseOptionalAddress(s string) (common.Address, bool) {
	if s == "" {
		return common.Address{}, true
	}
	return parseAddress(s)
}

func parseHash(s string) (common.Hash, bool) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// respondEngineError maps engine sentinel errors onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrNotEligibleOrPaused),
		errors.Is(err, exchange.ErrNotOperator),
		errors.Is(err, exchange.ErrNotAuthorizedTrader),
		errors.Is(err, exchange.ErrNotSpecificTaker):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrTooFewOrders),
		errors.Is(err, exchange.ErrTooManyOrders),
		errors.Is(err, exchange.ErrArrayLengthMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, exchange.ErrPaused):
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, "rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
