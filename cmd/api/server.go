package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/apperrors"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/metrics"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/mcclellann/loanledger/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// actorHeader names the caller on mutating requests. The API trusts it as given.
const actorHeader = "X-Actor"

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func NewServer(s store.Storage, logger *logrus.Logger, m *metrics.Metrics, opts ...ledger.Option) *Server {
	opts = append([]ledger.Option{ledger.WithLogger(logger), ledger.WithMetrics(m), ledger.WithClients(s)}, opts...)
	return &Server{
		ledger:  ledger.NewLedger(s, opts...),
		storage: s,
		metrics: m,
		logger:  logger,
	}
}

// Router wires every endpoint onto a gorilla/mux router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(LogMiddleware(s.logger))
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/products", s.listProductsHandler).Methods(http.MethodGet)
	router.HandleFunc("/products", s.createProductHandler).Methods(http.MethodPost)
	router.HandleFunc("/products/{id}", s.getProductHandler).Methods(http.MethodGet)
	router.HandleFunc("/products/{id}", s.updateProductHandler).Methods(http.MethodPut)

	router.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}", s.cancelLoanHandler).Methods(http.MethodDelete)
	router.HandleFunc("/loans/{id}/disburse", s.disburseHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/schedule", s.scheduleHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/schedule", s.buildScheduleHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/payments", s.paymentHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/late-fees", s.calculateLateFeesHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/late-fees", s.applyLateFeesHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/reschedule", s.rescheduleHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/transactions", s.transactionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/transactions/{txn}/reverse", s.reverseHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/early-repayment-quote", s.quoteHandler).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/default", s.defaultHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/write-off", s.writeOffHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/close", s.closeHandler).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/reconcile", s.reconcileHandler).Methods(http.MethodPost)

	router.HandleFunc("/sweeps", s.sweepHandler).Methods(http.MethodPost)
	router.HandleFunc("/reminders", s.remindersHandler).Methods(http.MethodPost)

	router.HandleFunc("/clients/{ref}", s.getClientHandler).Methods(http.MethodGet)
	router.HandleFunc("/clients/{ref}", s.saveClientHandler).Methods(http.MethodPut)
	router.HandleFunc("/clients/{ref}/credit-assessment", s.creditAssessmentHandler).Methods(http.MethodGet)
	return router
}

func (s *Server) createProductHandler(w http.ResponseWriter, r *http.Request) {
	var p models.LoanProduct
	if !decode(w, r, &p) {
		return
	}
	created, err := s.ledger.CreateProduct(r.Context(), &p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	products, err := s.ledger.GetAllProducts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.ledger.GetProduct(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var p models.LoanProduct
	if !decode(w, r, &p) {
		return
	}
	p.ID = id // Ensure ID from URL is used
	updated, err := s.ledger.UpdateProduct(r.Context(), &p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateLoanRequest
	if !decode(w, r, &req) {
		return
	}
	loan, err := s.ledger.CreateLoan(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) cancelLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.ledger.CancelLoan(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disburseHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ledger.DisburseRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get(actorHeader)
	}
	txn, err := s.ledger.Disburse(r.Context(), id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan.Schedule)
}

func (s *Server) buildScheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	schedule, err := s.ledger.BuildSchedule(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) paymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ledger.PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get(actorHeader)
	}
	alloc, err := s.ledger.ProcessPayment(r.Context(), id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alloc)
}

func (s *Server) calculateLateFeesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}
	total, err := s.ledger.CalculateLateFees(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"late_fees": total})
}

func (s *Server) applyLateFeesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}
	charged, err := s.ledger.ApplyLateFees(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, charged)
}

func (s *Server) rescheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ledger.RescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		req.Actor = r.Header.Get(actorHeader)
	}
	res, err := s.ledger.Reschedule(r.Context(), id, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txns, err := s.ledger.GetTransactions(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) reverseHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txnID, ok := pathID(w, r, "txn")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	txn, err := s.ledger.ReverseTransaction(r.Context(), id, txnID, r.Header.Get(actorHeader), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}
	quote, err := s.ledger.QuoteEarlyRepayment(r.Context(), id, amount, date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) defaultHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChange(w, r, s.ledger.MarkDefaulted)
}

func (s *Server) closeHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChange(w, r, s.ledger.Close)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	s.statusChange(w, r, s.ledger.Reconcile)
}

func (s *Server) statusChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*models.Loan, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := op(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) writeOffHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &req) {
		return
	}
	txn, err := s.ledger.WriteOff(r.Context(), id, r.Header.Get(actorHeader), req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}
	res, err := s.ledger.RunDailySweep(r.Context(), asOf)
	if err != nil {
		// Per-loan failures are already logged; the summary still goes back.
		s.logger.WithError(err).Warn("sweep finished with failures")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) remindersHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(w, r, "as_of")
	if !ok {
		return
	}
	days := 3
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}
	sent, err := s.ledger.SendPaymentReminders(r.Context(), asOf, days)
	if err != nil {
		s.logger.WithError(err).Warn("reminders finished with failures")
	}
	writeJSON(w, http.StatusOK, sent)
}

func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	client, err := s.ledger.GetClient(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (s *Server) saveClientHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if !decode(w, r, &c) {
		return
	}
	c.Ref = mux.Vars(r)["ref"]
	saved, err := s.ledger.SaveClient(r.Context(), &c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) creditAssessmentHandler(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}
	a, err := s.ledger.AssessCredit(r.Context(), mux.Vars(r)["ref"], amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case apperrors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case apperrors.IsConflict(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.logger.WithError(err).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s", key), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// queryDate parses an optional YYYY-MM-DD query parameter. A missing value
// yields the zero time, which the ledger reads as today.
func queryDate(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, true
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s, want YYYY-MM-DD", key), http.StatusBadRequest)
		return time.Time{}, false
	}
	return d, true
}
