package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/flux-aggregator/internal/flux"
	"github.com/yourorg/flux-aggregator/internal/model"
)

// Request parsing and response helpers shared by the handlers.

// parseAddress validates and parses a hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseAddresses parses a list of hex addresses, failing on the first bad one.
func parseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

// parseBig parses a decimal integer string.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer value: %q", s)
	}
	return v, nil
}

// parseRound parses a round id. An empty string means round 0.
func parseRound(s string) (model.RoundID, error) {
	if s == "" {
		return model.NoRound, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return model.NoRound, fmt.Errorf("invalid round id: %q", s)
	}
	return model.RoundID(v), nil
}

// parseSignature decodes an optional hex signature.
func parseSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return sig, nil
}

// writeJSON serializes a response body with the right content type.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, err error) {
	logrus.Warn(err.Error())
	writeJSON(w, statusCode, map[string]interface{}{
		"status": "error",
		"error":  err.Error(),
	})
}

// engineError maps an engine error onto an HTTP status by its class.
func (s *Server) engineError(w http.ResponseWriter, err error) {
	var status int
	switch flux.Classify(err) {
	case flux.ClassPermission:
		status = http.StatusForbidden
	case flux.ClassSequencing:
		status = http.StatusConflict
	case flux.ClassMissing:
		status = http.StatusNotFound
	case flux.ClassBounds:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	s.errorResponse(w, status, err)
}

// onePartyCall handles operations taking only a caller address.
func (s *Server) onePartyCall(w http.ResponseWriter, r *http.Request, op func(common.Address) ([]model.Event, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := op(caller)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// twoPartyCall handles operations taking a caller and a target address.
func (s *Server) twoPartyCall(w http.ResponseWriter, r *http.Request, op func(caller, to common.Address) ([]model.Event, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}

	events, err := op(caller, to)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.dispatch(events)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}
