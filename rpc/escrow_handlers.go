package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/observability"
)

const (
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowInvalidState  = -32024
	codeEscrowInvalidAmount = -32025
	codeEscrowOverflow      = -32026
	codeEscrowEmptyField    = -32027
	codeEscrowFault         = -32028
)

type escrowCreateParams struct {
	Seller    string `json:"seller"`
	Price     string `json:"price"`
	Title     string `json:"title"`
	Category  string `json:"category,omitempty"`
	ShipsFrom string `json:"shipsFrom,omitempty"`
	Nonce     string `json:"nonce"`
	Value     string `json:"value"`
}

type escrowCreateDefaultParams struct {
	Seller string `json:"seller"`
	Nonce  string `json:"nonce"`
	Value  string `json:"value"`
}

type escrowSetPriceParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	NewPrice string `json:"newPrice"`
	Value    string `json:"value,omitempty"`
}

type escrowSetFieldParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Value  string `json:"value"`
}

type escrowPurchaseParams struct {
	ID          string `json:"id"`
	Caller      string `json:"caller"`
	ContactInfo string `json:"contactInfo"`
	Value       string `json:"value"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowBalanceParams struct {
	ID      string `json:"id"`
	Account string `json:"account"`
}

type accountParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	ID            string  `json:"id"`
	Seller        string  `json:"seller"`
	Buyer         *string `json:"buyer,omitempty"`
	Price         string  `json:"price"`
	Title         string  `json:"title"`
	Category      string  `json:"category,omitempty"`
	ShipsFrom     string  `json:"shipsFrom,omitempty"`
	AttachedFiles string  `json:"attachedFiles,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     int64   `json:"createdAt"`
	PurchasedAt   *int64  `json:"purchasedAt,omitempty"`
	ConfirmedAt   *int64  `json:"confirmedAt,omitempty"`
}

func escrowToJSON(esc *escrow.Escrow) *escrowJSON {
	sellerAddr, _ := crypto.NewAddress(esc.Seller[:])
	out := &escrowJSON{
		ID:            hex.EncodeToString(esc.ID[:]),
		Seller:        sellerAddr.String(),
		Price:         esc.Price.String(),
		Title:         esc.Title,
		Category:      esc.Category,
		ShipsFrom:     esc.ShipsFrom,
		AttachedFiles: esc.AttachedFiles,
		Status:        esc.Status.String(),
		CreatedAt:     esc.CreatedAt,
	}
	if esc.HasBuyer() {
		buyerAddr, _ := crypto.NewAddress(esc.Buyer[:])
		encoded := buyerAddr.String()
		out.Buyer = &encoded
	}
	if esc.PurchasedAt != 0 {
		at := esc.PurchasedAt
		out.PurchasedAt = &at
	}
	if esc.ConfirmedAt != 0 {
		at := esc.ConfirmedAt
		out.ConfirmedAt = &at
	}
	return out
}

func parseBech32Address(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseEscrowID(value string) ([32]byte, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return [32]byte{}, fmt.Errorf("id must be hex encoded: %w", err)
	}
	if len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("id must be 32 bytes, got %d", len(decoded))
	}
	var id [32]byte
	copy(id[:], decoded)
	return id, nil
}

func parseNonce(value string) ([32]byte, error) {
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return [32]byte{}, fmt.Errorf("nonce must be hex encoded: %w", err)
	}
	if len(decoded) == 0 || len(decoded) > 32 {
		return [32]byte{}, fmt.Errorf("nonce must be 1..32 bytes, got %d", len(decoded))
	}
	var nonce [32]byte
	copy(nonce[32-len(decoded):], decoded)
	return nonce, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be a non-negative decimal", value)
	}
	return amount, nil
}

func parseHexBlob(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	return hex.DecodeString(trimmed)
}

// escrowErrorStatus maps an engine error to the transport status, stable code
// and message exposed to callers.
func escrowErrorStatus(err error) (int, int, string) {
	switch {
	case escrow.IsFault(err):
		return http.StatusInternalServerError, codeEscrowFault, "internal_fault"
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, escrow.ErrInvalidState):
		return http.StatusConflict, codeEscrowInvalidState, "invalid_state"
	case errors.Is(err, escrow.ErrOverflow):
		return http.StatusBadRequest, codeEscrowOverflow, "overflow"
	case errors.Is(err, escrow.ErrEmptyField):
		return http.StatusBadRequest, codeEscrowEmptyField, "empty_field"
	case errors.Is(err, escrow.ErrInvalidAmount):
		return http.StatusBadRequest, codeEscrowInvalidAmount, "invalid_amount"
	default:
		return http.StatusInternalServerError, codeServerError, "server_error"
	}
}

func (s *Server) writeEscrowError(w http.ResponseWriter, req *RPCRequest, err error) string {
	status, code, message := escrowErrorStatus(err)
	observability.ModuleMetrics().RecordError(req.Method, strconv.Itoa(code))
	writeError(w, status, req.ID, code, message, err.Error())
	return "error"
}

func (s *Server) writeInvalidParams(w http.ResponseWriter, req *RPCRequest, detail string) string {
	observability.ModuleMetrics().RecordError(req.Method, strconv.Itoa(codeInvalidParams))
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", detail)
	return "error"
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, req *RPCRequest, rpcErr *RPCError) string {
	observability.ModuleMetrics().RecordError(req.Method, strconv.Itoa(rpcErr.Code))
	writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	return "error"
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	nonce, err := parseNonce(params.Nonce)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	created, err := s.node.CreateEscrow(seller, escrow.CreateParams{
		Price:     price,
		Title:     params.Title,
		Category:  params.Category,
		ShipsFrom: params.ShipsFrom,
		Nonce:     nonce,
	}, value)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, escrowToJSON(created))
	return "ok"
}

func (s *Server) handleEscrowCreateDefault(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowCreateDefaultParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	nonce, err := parseNonce(params.Nonce)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	created, err := s.node.CreateEscrowDefault(seller, nonce, value)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, escrowToJSON(created))
	return "ok"
}

func (s *Server) handleEscrowSetPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowSetPriceParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	newPrice, err := parseAmount(params.NewPrice)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	outcome, err := s.node.SetPrice(id, caller, newPrice, value)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{"outcome": outcome.String()})
	return "ok"
}

func (s *Server) handleMetadataSet(w http.ResponseWriter, r *http.Request, req *RPCRequest, apply func(id [32]byte, caller [20]byte, value string) error) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowSetFieldParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	if err := apply(id, caller, params.Value); err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleEscrowSetTitle(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleMetadataSet(w, r, req, s.node.SetTitle)
}

func (s *Server) handleEscrowSetCategory(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleMetadataSet(w, r, req, s.node.SetCategory)
}

func (s *Server) handleEscrowSetShipsFrom(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleMetadataSet(w, r, req, s.node.SetShipsFrom)
}

func (s *Server) handleEscrowSetAttachedFiles(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleMetadataSet(w, r, req, s.node.SetAttachedFiles)
}

func (s *Server) handleEscrowPurchase(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowPurchaseParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	contactInfo, err := parseHexBlob(params.ContactInfo)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	if err := s.node.Purchase(id, caller, contactInfo, value); err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleActorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, apply func(id [32]byte, caller [20]byte) error) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	if err := apply(id, caller); err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return "ok"
}

func (s *Server) handleEscrowConfirm(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleActorCall(w, r, req, s.node.Confirm)
}

func (s *Server) handleEscrowRejectBuyer(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleActorCall(w, r, req, s.node.RejectBuyer)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.handleActorCall(w, r, req, s.node.Cancel)
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		return s.writeUnauthorized(w, req, authErr)
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	amount, err := s.node.Withdraw(id, caller)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
	return "ok"
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	esc, err := s.node.GetEscrow(id)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, escrowToJSON(esc))
	return "ok"
}

func (s *Server) handleEscrowGetContactInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	blob, err := s.node.ContactInfo(id, caller)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{"contactInfo": hex.EncodeToString(blob)})
	return "ok"
}

func (s *Server) handleEscrowPendingBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params escrowBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	account, err := parseBech32Address(params.Account)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	amount, err := s.node.PendingBalance(id, account)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
	return "ok"
}

func (s *Server) handleEscrowGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params accountParams
	if err := decodeSingleParam(req, &params); err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		return s.writeInvalidParams(w, req, err.Error())
	}
	account, err := s.node.GetAccount(addr)
	if err != nil {
		return s.writeEscrowError(w, req, err)
	}
	writeResult(w, req.ID, map[string]string{
		"balance": account.Balance.String(),
		"nonce":   strconv.FormatUint(account.Nonce, 10),
	})
	return "ok"
}
