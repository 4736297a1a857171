package chaintools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 512

// SidecarClient reads chain state through a Substrate API Sidecar REST service
type SidecarClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSidecarClient creates a client for baseURL. A zero timeout leaves
// request lifetime to the caller's context.
func NewSidecarClient(baseURL string, timeout time.Duration) *SidecarClient {
	return &SidecarClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SidecarError is a non-2xx answer from the sidecar
type SidecarError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *SidecarError) Error() string {
	return fmt.Sprintf("sidecar error (status %d) for %s: %s", e.StatusCode, e.Path, e.Body)
}

// StorageResponse is the sidecar answer for a pallet storage item
type StorageResponse struct {
	At struct {
		Hash   string `json:"hash"`
		Height string `json:"height"`
	} `json:"at"`
	Pallet      string          `json:"pallet"`
	StorageItem string          `json:"storageItem"`
	Keys        []string        `json:"keys"`
	Value       json.RawMessage `json:"value"`
}

// PoolMember is the NominationPools.PoolMembers entry of an account
type PoolMember struct {
	PoolID                    string            `json:"poolId"`
	Points                    string            `json:"points"`
	LastRecordedRewardCounter string            `json:"lastRecordedRewardCounter"`
	UnbondingEras             map[string]string `json:"unbondingEras"`
}

// PoolInfo is the sidecar view of a nomination pool
type PoolInfo struct {
	BondedPool struct {
		Points        string          `json:"points"`
		State         string          `json:"state"`
		MemberCounter string          `json:"memberCounter"`
		Roles         json.RawMessage `json:"roles"`
	} `json:"bondedPool"`
	RewardPool json.RawMessage `json:"rewardPool"`
	Metadata   string          `json:"metadata"`
}

// BalanceInfo is the sidecar view of an account balance
type BalanceInfo struct {
	At struct {
		Hash   string `json:"hash"`
		Height string `json:"height"`
	} `json:"at"`
	Nonce        string `json:"nonce"`
	TokenSymbol  string `json:"tokenSymbol"`
	Free         string `json:"free"`
	Reserved     string `json:"reserved"`
	Frozen       string `json:"frozen"`
	Transferable string `json:"transferable"`
}

// PoolMember fetches the pool membership of account, or nil if it is not a member
func (c *SidecarClient) PoolMember(ctx context.Context, account string) (*PoolMember, error) {
	query := url.Values{}
	query.Add("keys[]", account)

	var storage StorageResponse
	if err := c.get(ctx, "/pallets/NominationPools/storage/PoolMembers", query, &storage); err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(string(storage.Value))
	if raw == "" || raw == "null" {
		return nil, nil
	}

	var member PoolMember
	if err := json.Unmarshal(storage.Value, &member); err != nil {
		return nil, fmt.Errorf("failed to decode pool member: %w", err)
	}
	return &member, nil
}

// Pool fetches the state of a nomination pool
func (c *SidecarClient) Pool(ctx context.Context, poolID string) (*PoolInfo, error) {
	var info PoolInfo
	if err := c.get(ctx, "/pallets/nomination-pools/"+url.PathEscape(poolID), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Balance fetches the balance of account
func (c *SidecarClient) Balance(ctx context.Context, account string) (*BalanceInfo, error) {
	var info BalanceInfo
	if err := c.get(ctx, "/accounts/"+url.PathEscape(account)+"/balance-info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *SidecarClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SidecarError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sidecar response: %w", err)
	}
	return nil
}
