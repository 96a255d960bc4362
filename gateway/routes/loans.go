package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"strikelend/crypto"
	"strikelend/gateway/middleware"
	"strikelend/ledger"
	"strikelend/native/loan"
	"strikelend/native/quote"
	"strikelend/oracle"
	"strikelend/storage"
)

type loanHandlers struct {
	loans  *loan.Engine
	quotes *quote.Engine
	store  *storage.Store
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
}

// statusForError maps engine error kinds onto HTTP statuses. Unknown errors
// are treated as bad requests; the engines validate inputs loudly and the
// storage layer surfaces its own failures through logs.
func statusForError(err error) int {
	switch {
	case errors.Is(err, loan.ErrLoanNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrNotYetPermitted):
		return http.StatusTooEarly
	case errors.Is(err, loan.ErrAlreadyFinalized),
		errors.Is(err, loan.ErrAlreadyClaimed),
		errors.Is(err, quote.ErrNonceUsed):
		return http.StatusConflict
	case errors.Is(err, loan.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, loan.ErrIneligible),
		errors.Is(err, quote.ErrInsufficientFunds),
		errors.Is(err, quote.ErrSelfFill),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, loan.ErrUnauthorized),
		errors.Is(err, oracle.ErrUnauthorizedReporter):
		return http.StatusForbidden
	case errors.Is(err, quote.ErrSignatureInvalid),
		errors.Is(err, quote.ErrQuoteExpired):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}

func parseLoanID(r *http.Request) ([32]byte, error) {
	var id [32]byte
	raw := strings.TrimPrefix(strings.TrimSpace(chi.URLParam(r, "id")), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return id, errors.New("malformed loan id")
	}
	copy(id[:], decoded)
	return id, nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, errors.New("malformed amount")
	}
	return v, nil
}

type refiPayload struct {
	Enabled     bool   `json:"enabled"`
	Venue       string `json:"venue,omitempty"`
	GracePeriod int64  `json:"gracePeriod,omitempty"`
	MaxLTVBps   uint64 `json:"maxLtvBps,omitempty"`
}

type quotePayload struct {
	Lender           string      `json:"lender"`
	CollateralAsset  string      `json:"collateralAsset"`
	DebtAsset        string      `json:"debtAsset"`
	CollateralAmount string      `json:"collateralAmount"`
	Principal        string      `json:"principal"`
	RepaymentAmount  string      `json:"repaymentAmount"`
	Expiry           int64       `json:"expiry"`
	CallStrike       string      `json:"callStrike"`
	Oracle           string      `json:"oracle"`
	Refi             refiPayload `json:"refi"`
	Nonce            uint64      `json:"nonce"`
	Deadline         int64       `json:"deadline"`
	FeeBps           uint32      `json:"feeBps"`
}

type originateRequest struct {
	Quote     quotePayload `json:"quote"`
	Signature string       `json:"signature"`
}

func (p *quotePayload) toQuote() (*quote.Quote, error) {
	lender, err := crypto.DecodeAddress(p.Lender)
	if err != nil {
		return nil, errors.New("malformed lender address")
	}
	collateral, err := parseAmount(p.CollateralAmount)
	if err != nil {
		return nil, err
	}
	principal, err := parseAmount(p.Principal)
	if err != nil {
		return nil, err
	}
	repayment, err := parseAmount(p.RepaymentAmount)
	if err != nil {
		return nil, err
	}
	strike, err := parseAmount(p.CallStrike)
	if err != nil {
		return nil, err
	}
	return &quote.Quote{
		Lender:           lender.Raw(),
		CollateralAsset:  p.CollateralAsset,
		DebtAsset:        p.DebtAsset,
		CollateralAmount: collateral,
		Principal:        principal,
		RepaymentAmount:  repayment,
		Expiry:           p.Expiry,
		CallStrike:       strike,
		OracleName:       p.Oracle,
		Refi: loan.RefiConfig{
			Enabled:     p.Refi.Enabled,
			Venue:       p.Refi.Venue,
			GracePeriod: p.Refi.GracePeriod,
			MaxLTVBps:   p.Refi.MaxLTVBps,
		},
		Nonce:    p.Nonce,
		Deadline: p.Deadline,
		FeeBps:   p.FeeBps,
	}, nil
}

type loanResponse struct {
	ID               string `json:"id"`
	Borrower         string `json:"borrower"`
	Lender           string `json:"lender"`
	CollateralAsset  string `json:"collateralAsset"`
	DebtAsset        string `json:"debtAsset"`
	CollateralAmount string `json:"collateralAmount"`
	Principal        string `json:"principal"`
	RepaymentAmount  string `json:"repaymentAmount"`
	Expiry           int64  `json:"expiry"`
	CallStrike       string `json:"callStrike"`
	Status           string `json:"status"`

	RefiEnabled  bool   `json:"refiEnabled"`
	RefiVenue    string `json:"refiVenue,omitempty"`
	RefiDeadline int64  `json:"refiDeadline,omitempty"`

	SettlementPrice       string `json:"settlementPrice,omitempty"`
	RefiEligible          bool   `json:"refiEligible"`
	CollateralForBorrower string `json:"collateralForBorrower,omitempty"`
	CollateralForLender   string `json:"collateralForLender,omitempty"`
	BorrowerClaimed       bool   `json:"borrowerClaimed"`
	LenderClaimed         bool   `json:"lenderClaimed"`
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func renderLoan(l *loan.Loan) loanResponse {
	resp := loanResponse{
		ID:               hex.EncodeToString(l.ID[:]),
		Borrower:         crypto.FromRaw(l.Borrower).String(),
		Lender:           crypto.FromRaw(l.Lender).String(),
		CollateralAsset:  l.CollateralAsset,
		DebtAsset:        l.DebtAsset,
		CollateralAmount: formatAmount(l.CollateralAmount),
		Principal:        formatAmount(l.Principal),
		RepaymentAmount:  formatAmount(l.RepaymentAmount),
		Expiry:           l.Expiry,
		CallStrike:       formatAmount(l.CallStrike),
		Status:           l.Status.String(),

		RefiEnabled:  l.Refi.Enabled,
		RefiVenue:    l.Refi.Venue,
		RefiEligible: l.RefiEligible,

		SettlementPrice:       formatAmount(l.SettlementPrice),
		CollateralForBorrower: formatAmount(l.CollateralForBorrower),
		CollateralForLender:   formatAmount(l.CollateralForLender),
		BorrowerClaimed:       l.BorrowerClaimed,
		LenderClaimed:         l.LenderClaimed,
	}
	if l.Refi.Enabled {
		resp.RefiDeadline = l.RefiDeadline()
	}
	return resp
}

func (h *loanHandlers) originate(w http.ResponseWriter, r *http.Request) {
	borrower, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required"})
		return
	}
	var req originateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	q, err := req.Quote.toQuote()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(req.Signature), "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed signature"})
		return
	}
	created, err := h.quotes.Fill(q, signature, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderLoan(created))
}

func (h *loanHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	l, err := h.loans.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLoan(l))
}

func (h *loanHandlers) list(w http.ResponseWriter, r *http.Request) {
	status := loan.LoanActive
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := loan.ParseStatus(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		status = parsed
	}
	loans, err := h.store.LoansByStatus(status, 100)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("list loans", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "listing unavailable"})
		return
	}
	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, renderLoan(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *loanHandlers) events(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	trail, err := h.store.EventsForLoan(id)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("load audit trail", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit trail unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (h *loanHandlers) expire(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.loans.Expire(id); err != nil {
		writeError(w, err)
		return
	}
	l, err := h.loans.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLoan(l))
}

type refinanceResponse struct {
	Success bool         `json:"success"`
	Loan    loanResponse `json:"loan"`
}

func (h *loanHandlers) refinance(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required"})
		return
	}
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	success, err := h.loans.AttemptRefinance(id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	l, err := h.loans.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	// A failed attempt is a legal outcome, not an error.
	writeJSON(w, http.StatusOK, refinanceResponse{Success: success, Loan: renderLoan(l)})
}

func (h *loanHandlers) settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required"})
		return
	}
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := h.loans.Settle(id, caller); err != nil {
		writeError(w, err)
		return
	}
	l, err := h.loans.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderLoan(l))
}

type claimResponse struct {
	Party  string `json:"party"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (h *loanHandlers) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "caller identity required"})
		return
	}
	id, err := parseLoanID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	party := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "party")))
	var amount *big.Int
	switch party {
	case "borrower":
		amount, err = h.loans.ClaimBorrower(id, caller)
	case "lender":
		amount, err = h.loans.ClaimLender(id, caller)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "party must be borrower or lender"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	l, lookupErr := h.loans.Get(id)
	if lookupErr != nil {
		writeError(w, lookupErr)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{
		Party:  party,
		Asset:  l.CollateralAsset,
		Amount: formatAmount(amount),
	})
}
