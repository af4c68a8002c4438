package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// WalletHandler handles wallet connection routes.
type WalletHandler struct {
	wallet Wallet
}

// NewWalletHandler creates a new wallet handler.
func NewWalletHandler(wallet Wallet) *WalletHandler {
	return &WalletHandler{wallet: wallet}
}

type connectRequest struct {
	Address string `json:"address"`
}

type walletResponse struct {
	Connected bool   `json:"connected"`
	Identity  string `json:"identity,omitempty"`
}

// HandleAccounts handles GET /wallet/accounts requests.
func (h *WalletHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ids := h.wallet.Accounts()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleConnect handles POST /wallet/connect requests. An empty body or
// address connects the first account.
func (h *WalletHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	const op = "api.wallet_connect"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := h.wallet.Connect(r.Context(), req.Address)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrWallet, err))
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{Connected: true, Identity: id.Hex()})
}

// HandleDisconnect handles POST /wallet/disconnect requests.
func (h *WalletHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	h.wallet.Disconnect()
	writeJSON(w, http.StatusOK, walletResponse{Connected: false})
}
