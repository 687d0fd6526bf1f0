package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Error classes attached to RPC failures.
const (
	ClassTimeout     = "rpc_timeout"
	ClassUnavailable = "rpc_unavailable"
	ClassRateLimited = "rpc_rate_limited"
	ClassReverted    = "reverted"
	ClassFunds       = "insufficient_funds"
	ClassNonce       = "nonce_conflict"
	ClassRPC         = "rpc_error"
)

var (
	ErrReverted       = errors.New("execution reverted")
	ErrConfirmTimeout = errors.New("confirmation timed out")
)

// RPCError annotates a node error with the call that produced it and a
// coarse class.
type RPCError struct {
	Method string
	Class  string
	Reason string // decoded revert reason, if any
	Err    error
}

func (e *RPCError) Error() string {
	msg := fmt.Sprintf("%s [%s]: %v", e.Method, e.Class, e.Err)
	if e.Reason != "" {
		msg += " (reason: " + e.Reason + ")"
	}
	return msg
}

func (e *RPCError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrReverted) hold for reverted calls reported by
// the node as plain JSON-RPC errors.
func (e *RPCError) Is(target error) bool {
	return target == ErrReverted && e.Class == ClassReverted
}

func wrapRPC(method string, err error) error {
	if err == nil {
		return nil
	}
	return &RPCError{Method: method, Class: classifyRPCError(err), Reason: revertReason(err), Err: err}
}

// classifyRPCError returns a coarse class for a transport or node error.
func classifyRPCError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "execution reverted") || strings.Contains(s, "revert"):
		return ClassReverted
	case strings.Contains(s, "context deadline exceeded"):
		return ClassTimeout
	case strings.Contains(s, "insufficient funds"):
		return ClassFunds
	case strings.Contains(s, "nonce too low") || strings.Contains(s, "nonce too high") ||
		strings.Contains(s, "already known") || strings.Contains(s, "replacement transaction underpriced"):
		return ClassNonce
	case strings.Contains(s, "connection refused") || strings.Contains(s, "connection reset") ||
		strings.Contains(s, "broken pipe") || strings.Contains(s, "eof") ||
		strings.Contains(s, "dial tcp") || strings.Contains(s, "no such host") ||
		strings.Contains(s, "invalid character '<'"):
		return ClassUnavailable
	case strings.Contains(s, "too many requests") || strings.Contains(s, "-32005") || strings.Contains(s, "429"):
		return ClassRateLimited
	}
	return ClassRPC
}

// revertReason decodes Error(string) revert data carried by the node error.
func revertReason(err error) string {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return ""
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decErr := hexutil.Decode(s)
	if decErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}
