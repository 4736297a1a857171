package chaintools

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Caller performs one JSON-RPC call. *RPCClient satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, result interface{}, params ...interface{}) error
}

// Head is the best block of a chain
type Head struct {
	Chain      string `json:"chain,omitempty"`
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	StateRoot  string `json:"stateRoot"`
}

// ChainProperties describes a chain's identity and token
type ChainProperties struct {
	Chain         string                 `json:"chain,omitempty"`
	Name          string                 `json:"name"`
	SpecName      string                 `json:"specName"`
	SpecVersion   uint32                 `json:"specVersion"`
	SS58Format    *int                   `json:"ss58Format,omitempty"`
	TokenSymbol   []string               `json:"tokenSymbol,omitempty"`
	TokenDecimals []int                  `json:"tokenDecimals,omitempty"`
	Raw           map[string]interface{} `json:"-"`
}

type header struct {
	ParentHash string `json:"parentHash"`
	Number     string `json:"number"`
	StateRoot  string `json:"stateRoot"`
}

type runtimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

// ChainHead returns the best block
func ChainHead(ctx context.Context, c Caller) (*Head, error) {
	var hash string
	if err := c.Call(ctx, "chain_getBlockHash", &hash); err != nil {
		return nil, err
	}
	var h header
	if err := c.Call(ctx, "chain_getHeader", &h, hash); err != nil {
		return nil, err
	}
	number, err := parseHexUint(h.Number)
	if err != nil {
		return nil, fmt.Errorf("invalid block number %q: %w", h.Number, err)
	}
	return &Head{
		Number:     number,
		Hash:       hash,
		ParentHash: h.ParentHash,
		StateRoot:  h.StateRoot,
	}, nil
}

// AccountNextIndex returns the next nonce of address, counting pool transactions
func AccountNextIndex(ctx context.Context, c Caller, address string) (uint64, error) {
	var nonce uint64
	if err := c.Call(ctx, "system_accountNextIndex", &nonce, address); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Properties returns the chain name, runtime version and token properties
func Properties(ctx context.Context, c Caller) (*ChainProperties, error) {
	props := &ChainProperties{}
	if err := c.Call(ctx, "system_chain", &props.Name); err != nil {
		return nil, err
	}

	var version runtimeVersion
	if err := c.Call(ctx, "state_getRuntimeVersion", &version); err != nil {
		return nil, err
	}
	props.SpecName = version.SpecName
	props.SpecVersion = version.SpecVersion

	var raw map[string]json.RawMessage
	if err := c.Call(ctx, "system_properties", &raw); err != nil {
		return nil, err
	}
	props.Raw = make(map[string]interface{}, len(raw))
	for k, v := range raw {
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err == nil {
			props.Raw[k] = decoded
		}
	}

	if v, ok := raw["ss58Format"]; ok {
		var format int
		if err := json.Unmarshal(v, &format); err == nil {
			props.SS58Format = &format
		}
	}
	// single-token chains report scalars, multi-token chains report lists
	props.TokenSymbol = decodeScalarOrList[string](raw["tokenSymbol"])
	props.TokenDecimals = decodeScalarOrList[int](raw["tokenDecimals"])

	return props, nil
}

// PendingRewards queries the NominationPoolsApi runtime API for the
// unclaimed rewards of a pool member, in plancks.
func PendingRewards(ctx context.Context, c Caller, member Address) (string, error) {
	var out string
	if err := c.Call(ctx, "state_call", &out, "NominationPoolsApi_pending_rewards", member.Hex()); err != nil {
		return "", err
	}
	return decodeU128(out)
}

// decodeU128 decodes a SCALE little-endian u128 given as 0x-prefixed hex
func decodeU128(s string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid u128 %q: %w", s, err)
	}
	if len(raw) != 16 {
		return "", fmt.Errorf("invalid u128 %q: expected 16 bytes, got %d", s, len(raw))
	}
	be := make([]byte, len(raw))
	for i, b := range raw {
		be[len(raw)-1-i] = b
	}
	return new(big.Int).SetBytes(be).String(), nil
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func decodeScalarOrList[T any](raw json.RawMessage) []T {
	if len(raw) == 0 {
		return nil
	}
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one T
	if err := json.Unmarshal(raw, &one); err == nil {
		return []T{one}
	}
	return nil
}
