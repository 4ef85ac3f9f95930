package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPCError is an error reported by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ErrWalletLocked is returned by the in-memory ledger when a signing call is made without unlocking.
var ErrWalletLocked = &RPCError{Code: -13, Message: "Error: Please enter the wallet passphrase with walletpassphrase first."}

// decodeError turns transport errors into RPCError where the node supplied one.
// Nodes answer failed calls with a non-2xx status and the JSON-RPC error in the body.
func decodeError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		var body struct {
			Error *RPCError `json:"error"`
		}
		if jsonErr := json.Unmarshal(httpErr.Body, &body); jsonErr == nil && body.Error != nil {
			return body.Error
		}
		return fmt.Errorf("http %d: %s", httpErr.StatusCode, httpErr.Status)
	}
	return err
}
