package handlers

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"raffle/internal/entropy"
	"raffle/internal/logger"
	"raffle/internal/raffle"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

// CallerHeader carries the account of the caller, set by the gateway in front
// of the service.
const CallerHeader = "X-Caller"

// HTTPHandler exposes the raffle service as a JSON API.
type HTTPHandler struct {
	service  *raffle.Service
	feed     *entropy.MemoryFeed
	gatherer prometheus.Gatherer
}

// NewHTTPHandler creates a new HTTPHandler. feed may be nil when draws do not
// use the beacon, gatherer may be nil to skip /metrics.
func NewHTTPHandler(service *raffle.Service, feed *entropy.MemoryFeed, gatherer prometheus.Gatherer) *HTTPHandler {
	return &HTTPHandler{
		service:  service,
		feed:     feed,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers all the application routes.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/raffles", h.CreateRaffle)
	router.GET("/raffles", h.ListRaffles)
	router.GET("/raffles/:id", h.GetRaffle)
	router.GET("/raffles/:id/participants", h.GetParticipants)
	router.GET("/raffles/:id/events", h.GetEvents)
	router.GET("/raffles/:id/payouts", h.GetPayouts)
	router.POST("/raffles/:id/tickets", h.BuyTicket)
	router.POST("/raffles/:id/close", h.CloseRaffle)
	router.POST("/raffles/:id/claim", h.ClaimPrize)
	router.GET("/accounts/:address/balance", h.GetBalance)

	if h.feed != nil {
		router.POST("/beacon/rounds", h.PublishRound)
	}
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// RequestLogger logs every request through the zap facade.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug(
			"http: request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
		)
	}
}

type createRaffleRequest struct {
	MaxTickets   uint32 `json:"max_tickets"`
	TicketPrice  uint64 `json:"ticket_price"`
	FeePercent   uint8  `json:"fee_percent"`
	StakePercent uint8  `json:"stake_percent"`
}

type buyTicketRequest struct {
	Amount uint64 `json:"amount"`
}

type publishRoundRequest struct {
	Number     uint64 `json:"number"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

type raffleResponse struct {
	ID           uint32  `json:"id"`
	Organizer    string  `json:"organizer"`
	MaxTickets   uint32  `json:"max_tickets"`
	TicketPrice  uint64  `json:"ticket_price"`
	FeePercent   uint8   `json:"fee_percent"`
	StakePercent uint8   `json:"stake_percent"`
	TicketsSold  uint32  `json:"tickets_sold"`
	Winner       *string `json:"winner"`
	IsClosed     bool    `json:"is_closed"`
	TotalStake   uint64  `json:"total_stake"`
}

type eventResponse struct {
	Sequence    uint64    `json:"sequence"`
	RaffleID    uint32    `json:"raffle_id"`
	Kind        string    `json:"kind"`
	Account     string    `json:"account"`
	TicketsSold uint32    `json:"tickets_sold,omitempty"`
	MaxTickets  uint32    `json:"max_tickets,omitempty"`
	TicketPrice uint64    `json:"ticket_price,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type payoutResponse struct {
	ID              string `json:"id"`
	RaffleID        uint32 `json:"raffle_id"`
	Source          string `json:"source"`
	Destination     string `json:"destination"`
	Amount          uint64 `json:"amount"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
	TransactionHash string `json:"transaction_hash,omitempty"`
}

// CreateRaffle handles POST /raffles.
func (h *HTTPHandler) CreateRaffle(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var request createRaffleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	id, err := h.service.CreateRaffle(c.Request.Context(), caller, raffle.Params{
		MaxTickets:   request.MaxTickets,
		TicketPrice:  request.TicketPrice,
		FeePercent:   request.FeePercent,
		StakePercent: request.StakePercent,
	})
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListRaffles handles GET /raffles?organizer=&status=.
func (h *HTTPHandler) ListRaffles(c *gin.Context) {
	var filter raffle.Filter

	switch status := c.Query("status"); status {
	case raffle.StatusAny, raffle.StatusOpen, raffle.StatusClosed:
		filter.Status = status
	default:
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", "status must be open or closed")
		return
	}

	if organizer := c.Query("organizer"); organizer != "" {
		account, err := ton.ParseAccountID(organizer)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "InvalidAccount", err.Error())
			return
		}
		filter.Organizer = raffle.NewOptAccount(account)
	}

	raffles, err := h.service.ListRaffles(c.Request.Context(), filter)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	response := make([]raffleResponse, 0, len(raffles))
	for _, r := range raffles {
		response = append(response, toRaffleResponse(r))
	}
	c.JSON(http.StatusOK, response)
}

// GetRaffle handles GET /raffles/:id.
func (h *HTTPHandler) GetRaffle(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}

	r, found, err := h.service.GetRaffleInfo(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	if !found {
		abortWithServiceError(c, raffle.ErrRaffleNotFound)
		return
	}

	c.JSON(http.StatusOK, toRaffleResponse(r))
}

// GetParticipants handles GET /raffles/:id/participants.
func (h *HTTPHandler) GetParticipants(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}

	participants, err := h.service.GetParticipants(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	response := make([]string, 0, len(participants))
	for _, participant := range participants {
		response = append(response, participant.ToRaw())
	}
	c.JSON(http.StatusOK, response)
}

// GetEvents handles GET /raffles/:id/events.
func (h *HTTPHandler) GetEvents(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}

	events, err := h.service.GetEvents(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	response := make([]eventResponse, 0, len(events))
	for _, event := range events {
		response = append(response, eventResponse{
			Sequence:    event.Sequence,
			RaffleID:    event.RaffleID,
			Kind:        event.Kind,
			Account:     event.Account.ToRaw(),
			TicketsSold: event.TicketsSold,
			MaxTickets:  event.MaxTickets,
			TicketPrice: event.TicketPrice,
			CreatedAt:   event.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, response)
}

// GetPayouts handles GET /raffles/:id/payouts.
func (h *HTTPHandler) GetPayouts(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}

	payouts, err := h.service.GetPayouts(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	response := make([]payoutResponse, 0, len(payouts))
	for _, payout := range payouts {
		response = append(response, payoutResponse{
			ID:              payout.ID,
			RaffleID:        payout.RaffleID,
			Source:          payout.Source.ToRaw(),
			Destination:     payout.Destination.ToRaw(),
			Amount:          payout.Amount,
			Reason:          payout.Reason,
			Status:          payout.Status,
			TransactionHash: payout.TransactionHash,
		})
	}
	c.JSON(http.StatusOK, response)
}

// BuyTicket handles POST /raffles/:id/tickets.
func (h *HTTPHandler) BuyTicket(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	var request buyTicketRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	if err := h.service.BuyTicket(c.Request.Context(), id, caller, request.Amount); err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CloseRaffle handles POST /raffles/:id/close.
func (h *HTTPHandler) CloseRaffle(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	if err := h.service.CloseRaffle(c.Request.Context(), id, caller); err != nil {
		abortWithServiceError(c, err)
		return
	}

	h.GetRaffle(c)
}

// ClaimPrize handles POST /raffles/:id/claim.
func (h *HTTPHandler) ClaimPrize(c *gin.Context) {
	id, ok := raffleID(c)
	if !ok {
		return
	}
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	if err := h.service.ClaimPrize(c.Request.Context(), id, caller); err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetBalance handles GET /accounts/:address/balance.
func (h *HTTPHandler) GetBalance(c *gin.Context) {
	account, err := ton.ParseAccountID(c.Param("address"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidAccount", err.Error())
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), account)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": account.ToRaw(), "balance": balance})
}

// PublishRound handles POST /beacon/rounds.
func (h *HTTPHandler) PublishRound(c *gin.Context) {
	var request publishRoundRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	randomness, err := hex.DecodeString(request.Randomness)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", "randomness must be hex encoded")
		return
	}
	signature, err := hex.DecodeString(request.Signature)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRequest", "signature must be hex encoded")
		return
	}

	err = h.feed.Publish(entropy.Round{Number: request.Number, Randomness: randomness, Signature: signature})
	switch {
	case errors.Is(err, entropy.ErrInvalidSignature):
		abortWithError(c, http.StatusBadRequest, "InvalidSignature", entropy.ErrInvalidSignature.Error())
		return
	case errors.Is(err, entropy.ErrStaleRound):
		abortWithError(c, http.StatusConflict, "StaleRound", entropy.ErrStaleRound.Error())
		return
	case err != nil:
		abortWithServiceError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *HTTPHandler) caller(c *gin.Context) (ton.AccountID, bool) {
	header := c.GetHeader(CallerHeader)
	if header == "" {
		abortWithError(c, http.StatusUnauthorized, "MissingCaller", CallerHeader+" header is required")
		return ton.AccountID{}, false
	}

	account, err := ton.ParseAccountID(header)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidAccount", err.Error())
		return ton.AccountID{}, false
	}
	return account, true
}

func raffleID(c *gin.Context) (raffle.RaffleID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "InvalidRaffleID", "raffle id must be an unsigned 32-bit integer")
		return 0, false
	}
	return raffle.RaffleID(id), true
}

func toRaffleResponse(r raffle.Raffle) raffleResponse {
	response := raffleResponse{
		ID:           r.ID,
		Organizer:    r.Organizer.ToRaw(),
		MaxTickets:   r.MaxTickets,
		TicketPrice:  r.TicketPrice,
		FeePercent:   r.FeePercent,
		StakePercent: r.StakePercent,
		TicketsSold:  r.TicketsSold,
		IsClosed:     r.IsClosed,
		TotalStake:   r.TotalStake,
	}
	if winner, ok := r.Winner.Get(); ok {
		raw := winner.ToRaw()
		response.Winner = &raw
	}
	return response
}

func abortWithError(c *gin.Context, status int, kind string, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": message})
}

// abortWithServiceError answers with the kind and the message of the sentinel
// behind err. Wrapped details stay in the log.
func abortWithServiceError(c *gin.Context, err error) {
	kind := raffle.Kind(err)
	status := statusForKind(kind)

	message := "internal error"
	if sentinel := raffle.Sentinel(err); sentinel != nil {
		message = sentinel.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("http: request failed", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	} else {
		logger.Debug("http: request rejected", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}
	abortWithError(c, status, kind, message)
}

func statusForKind(kind string) int {
	switch kind {
	case "RaffleNotFound":
		return http.StatusNotFound
	case "NotOrganizer", "NotWinner":
		return http.StatusForbidden
	case "RaffleClosed", "RaffleNotClosed", "NoTicketsAvailable", "AlreadyParticipating", "NoTicketsSold":
		return http.StatusConflict
	case "InvalidTicketCount", "InvalidTicketPrice", "InvalidFeePercent", "InvalidStakePercent":
		return http.StatusBadRequest
	case "TransferFailed":
		return http.StatusBadGateway
	case "EntropyUnavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
