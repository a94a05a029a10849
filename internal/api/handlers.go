package api

import (
	"net/http"

	"github.com/cmatc13/chipdesk/internal/chip"
	"github.com/cmatc13/chipdesk/internal/txflow"
	"github.com/cmatc13/chipdesk/pkg/errors"
)

// handleConnectWallet connects the wallet in the body, or creates one.
func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletID string `json:"walletId"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	wallet, err := s.desk.Connect(r.Context(), req.WalletID)
	if err != nil {
		s.renderError(w, err.Error(), errors.HTTPStatus(err))
		return
	}

	message := "Wallet created"
	if req.WalletID != "" {
		message = "Wallet connected"
	}
	s.renderJSON(w, Response{Success: true, Message: message, Data: wallet}, http.StatusOK)
}

// handleGetWallet returns the connected wallet.
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.desk.Wallet()
	if !ok {
		s.renderError(w, "No wallet connected", http.StatusNotFound)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: wallet}, http.StatusOK)
}

// handleListChips returns the chips created and the chips cleared for transfer.
func (s *Server) handleListChips(w http.ResponseWriter, r *http.Request) {
	s.renderJSON(w, Response{
		Success: true,
		Data: map[string]interface{}{
			"created":      s.desk.CreatedChips(),
			"transferable": s.desk.GrantedChips(),
		},
	}, http.StatusOK)
}

// handleOperations returns the state of every feature.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	states := s.desk.States()
	data := make(map[string]txflow.State, len(states))
	for feature, state := range states {
		data[string(feature)] = state
	}
	s.renderJSON(w, Response{Success: true, Data: data}, http.StatusOK)
}

// handleCreateChip creates a chip.
func (s *Server) handleCreateChip(w http.ResponseWriter, r *http.Request) {
	in := chip.CreateInput{
		Number:    chip.Defaults.Number,
		DataBytes: chip.Defaults.DataBytes,
		Address:   chip.Defaults.Address,
	}
	if !s.decode(w, r, &in) {
		return
	}

	receipt, err := s.desk.CreateChip(r.Context(), in)
	s.renderOutcome(w, receipt, err)
}

// handleBuyChip buys the chip in the path.
func (s *Server) handleBuyChip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.chipID(w, r)
	if !ok {
		return
	}
	var req struct {
		DataBytes string `json:"dataBytes"`
		Address   string `json:"address"`
	}
	req.DataBytes = chip.Defaults.DataBytes
	if !s.decode(w, r, &req) {
		return
	}

	receipt, err := s.desk.BuyChip(r.Context(), chip.BuyInput{ChipID: id, DataBytes: req.DataBytes, Address: req.Address})
	s.renderOutcome(w, receipt, err)
}

// handleSetPermission sets the transfer permission of the chip in the path.
func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := s.chipID(w, r)
	if !ok {
		return
	}
	req := struct {
		Permission bool `json:"permission"`
	}{Permission: true}
	if !s.decode(w, r, &req) {
		return
	}

	receipt, err := s.desk.SetPermission(r.Context(), chip.PermissionInput{ChipID: id, Permission: req.Permission})
	s.renderOutcome(w, receipt, err)
}

// handleTransferChip transfers the chip in the path.
func (s *Server) handleTransferChip(w http.ResponseWriter, r *http.Request) {
	id, ok := s.chipID(w, r)
	if !ok {
		return
	}
	req := struct {
		Recipient string `json:"recipient"`
		DataBytes string `json:"dataBytes"`
	}{Recipient: chip.Defaults.Address, DataBytes: chip.Defaults.DataBytes}
	if !s.decode(w, r, &req) {
		return
	}

	receipt, err := s.desk.TransferChip(r.Context(), chip.TransferInput{ChipID: id, Recipient: req.Recipient, DataBytes: req.DataBytes})
	s.renderOutcome(w, receipt, err)
}
