package chaintools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// NominationInfo is the result of get_nomination_info. Member, Pool and
// PendingRewards are null when the account is not in a pool.
type NominationInfo struct {
	Account        string         `json:"account"`
	Chain          string         `json:"chain"`
	Member         *MemberSummary `json:"member"`
	Pool           *PoolSummary   `json:"pool"`
	PendingRewards *string        `json:"pendingRewards"`
}

// MemberSummary is a pool membership
type MemberSummary struct {
	PoolID                    int            `json:"poolId"`
	Points                    string         `json:"points"`
	LastRecordedRewardCounter string         `json:"lastRecordedRewardCounter"`
	UnbondingEras             []UnbondingEra `json:"unbondingEras"`
}

// UnbondingEra is an amount that becomes withdrawable at Era
type UnbondingEra struct {
	Era   int    `json:"era"`
	Value string `json:"value"`
}

// PoolSummary is the bonded state of a pool
type PoolSummary struct {
	ID            int             `json:"id"`
	State         string          `json:"state"`
	Points        string          `json:"points"`
	MemberCounter string          `json:"memberCounter"`
	Roles         json.RawMessage `json:"roles,omitempty"`
}

// NominationInfo looks up the nomination pool membership of account on an Asset Hub chain
func (t *Toolkit) NominationInfo(ctx context.Context, account, chainID string) (*NominationInfo, error) {
	if !IsAssetHub(chainID) {
		return nil, fmt.Errorf("Nomination pools are only supported on Asset Hub chains. Received '%s'.", chainID)
	}

	chain, err := t.catalog.Lookup(chainID)
	if err != nil {
		return nil, err
	}
	address, member, err := ConvertAddress(account, chain)
	if err != nil {
		return nil, err
	}
	sidecar, err := t.sidecar(chain)
	if err != nil {
		return nil, err
	}

	info := &NominationInfo{Account: address, Chain: chainID}

	rawMember, err := sidecar.PoolMember(ctx, address)
	if err != nil {
		return nil, err
	}
	if rawMember == nil {
		return info, nil
	}

	info.Member, err = normalizeMember(rawMember)
	if err != nil {
		return nil, err
	}

	pool, err := sidecar.Pool(ctx, rawMember.PoolID)
	if err != nil {
		return nil, err
	}
	info.Pool = normalizePool(info.Member.PoolID, pool)
	info.PendingRewards = t.pendingRewards(ctx, chain, member)

	return info, nil
}

// pendingRewards is best effort; nodes without the runtime API yield nil
func (t *Toolkit) pendingRewards(ctx context.Context, chain Chain, member Address) *string {
	client, err := t.rpc.Client(chain)
	if err != nil {
		t.logger.Debug().Err(err).Str("chain", chain.ID).Msg("Skipping pending rewards")
		return nil
	}
	rewards, err := PendingRewards(ctx, client, member)
	if err != nil {
		t.logger.Debug().Err(err).Str("chain", chain.ID).Msg("Pending rewards unavailable")
		return nil
	}
	return &rewards
}

func normalizeMember(m *PoolMember) (*MemberSummary, error) {
	poolID, err := strconv.Atoi(m.PoolID)
	if err != nil {
		return nil, fmt.Errorf("invalid pool id %q: %w", m.PoolID, err)
	}

	eras := make([]UnbondingEra, 0, len(m.UnbondingEras))
	for era, value := range m.UnbondingEras {
		n, err := strconv.Atoi(era)
		if err != nil {
			n = 0
		}
		eras = append(eras, UnbondingEra{Era: n, Value: value})
	}
	sort.Slice(eras, func(i, j int) bool { return eras[i].Era < eras[j].Era })

	return &MemberSummary{
		PoolID:                    poolID,
		Points:                    m.Points,
		LastRecordedRewardCounter: m.LastRecordedRewardCounter,
		UnbondingEras:             eras,
	}, nil
}

func normalizePool(id int, p *PoolInfo) *PoolSummary {
	if p == nil {
		return nil
	}
	return &PoolSummary{
		ID:            id,
		State:         p.BondedPool.State,
		Points:        p.BondedPool.Points,
		MemberCounter: p.BondedPool.MemberCounter,
		Roles:         p.BondedPool.Roles,
	}
}
