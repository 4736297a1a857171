package chaintools

import (
	"fmt"
	"sort"
	"strings"
)

// Chain describes a network the tools can query
type Chain struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Decimals   int    `json:"decimals"`
	SS58Prefix uint16 `json:"ss58Prefix"`
	AssetHub   bool   `json:"assetHub"`
	RPCURL     string `json:"rpcUrl"`
	SidecarURL string `json:"sidecarUrl,omitempty"`
}

var knownChains = map[string]Chain{
	"polkadot": {
		ID: "polkadot", Name: "Polkadot", Symbol: "DOT", Decimals: 10, SS58Prefix: 0,
		RPCURL:     "wss://rpc.polkadot.io",
		SidecarURL: "https://polkadot-public-sidecar.parity-chains.parity.io",
	},
	"kusama": {
		ID: "kusama", Name: "Kusama", Symbol: "KSM", Decimals: 12, SS58Prefix: 2,
		RPCURL:     "wss://kusama-rpc.polkadot.io",
		SidecarURL: "https://kusama-public-sidecar.parity-chains.parity.io",
	},
	"west": {
		ID: "west", Name: "Westend", Symbol: "WND", Decimals: 12, SS58Prefix: 42,
		RPCURL:     "wss://westend-rpc.polkadot.io",
		SidecarURL: "https://westend-public-sidecar.parity-chains.parity.io",
	},
	"paseo": {
		ID: "paseo", Name: "Paseo", Symbol: "PAS", Decimals: 10, SS58Prefix: 0,
		RPCURL: "wss://paseo.rpc.amforc.com",
	},
	"polkadot_asset_hub": {
		ID: "polkadot_asset_hub", Name: "Polkadot Asset Hub", Symbol: "DOT", Decimals: 10, SS58Prefix: 0, AssetHub: true,
		RPCURL:     "wss://polkadot-asset-hub-rpc.polkadot.io",
		SidecarURL: "https://polkadot-asset-hub-public-sidecar.parity-chains.parity.io",
	},
	"kusama_asset_hub": {
		ID: "kusama_asset_hub", Name: "Kusama Asset Hub", Symbol: "KSM", Decimals: 12, SS58Prefix: 2, AssetHub: true,
		RPCURL:     "wss://kusama-asset-hub-rpc.polkadot.io",
		SidecarURL: "https://kusama-asset-hub-public-sidecar.parity-chains.parity.io",
	},
	"west_asset_hub": {
		ID: "west_asset_hub", Name: "Westend Asset Hub", Symbol: "WND", Decimals: 12, SS58Prefix: 42, AssetHub: true,
		RPCURL:     "wss://westend-asset-hub-rpc.polkadot.io",
		SidecarURL: "https://westend-asset-hub-public-sidecar.parity-chains.parity.io",
	},
	"paseo_asset_hub": {
		ID: "paseo_asset_hub", Name: "Paseo Asset Hub", Symbol: "PAS", Decimals: 10, SS58Prefix: 0, AssetHub: true,
		RPCURL: "wss://asset-hub-paseo-rpc.dwellir.com",
	},
}

var chainAliases = map[string]string{
	"dot":               "polkadot",
	"ksm":               "kusama",
	"westend":           "west",
	"wnd":               "west",
	"westend_asset_hub": "west_asset_hub",
	"polkadot_assethub": "polkadot_asset_hub",
	"kusama_assethub":   "kusama_asset_hub",
	"westend_assethub":  "west_asset_hub",
	"paseo_assethub":    "paseo_asset_hub",
}

// NormalizeChainID lowercases id and resolves common aliases such as "westend"
func NormalizeChainID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.ReplaceAll(id, "-", "_")
	if canonical, ok := chainAliases[id]; ok {
		return canonical
	}
	return id
}

// IsKnownChain reports whether id, after normalization, names a supported chain
func IsKnownChain(id string) bool {
	_, ok := knownChains[NormalizeChainID(id)]
	return ok
}

// IsAssetHub reports whether id names an Asset Hub chain. Unknown ids are not Asset Hubs.
func IsAssetHub(id string) bool {
	chain, ok := knownChains[NormalizeChainID(id)]
	return ok && chain.AssetHub
}

// KnownChainIDs returns the canonical ids of all supported chains, sorted
func KnownChainIDs() []string {
	ids := make([]string, 0, len(knownChains))
	for id := range knownChains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AssetHubChainIDs returns the ids of the chains that host nomination pools
func AssetHubChainIDs() []string {
	ids := []string{}
	for _, id := range KnownChainIDs() {
		if knownChains[id].AssetHub {
			ids = append(ids, id)
		}
	}
	return ids
}

// Endpoint overrides the default connection URLs of a chain
type Endpoint struct {
	RPCURL     string `json:"rpc_url" mapstructure:"rpc_url"`
	SidecarURL string `json:"sidecar_url" mapstructure:"sidecar_url"`
}

// Catalog resolves chain ids to chains with endpoint overrides applied
type Catalog struct {
	chains map[string]Chain
}

// NewCatalog creates a catalog of the known chains. Overrides are keyed by
// chain id; aliases are accepted.
func NewCatalog(overrides map[string]Endpoint) (*Catalog, error) {
	chains := make(map[string]Chain, len(knownChains))
	for id, chain := range knownChains {
		chains[id] = chain
	}

	for rawID, ep := range overrides {
		id := NormalizeChainID(rawID)
		chain, ok := chains[id]
		if !ok {
			return nil, fmt.Errorf("unknown chain in endpoint overrides: %s", rawID)
		}
		if ep.RPCURL != "" {
			chain.RPCURL = ep.RPCURL
		}
		if ep.SidecarURL != "" {
			chain.SidecarURL = strings.TrimRight(ep.SidecarURL, "/")
		}
		chains[id] = chain
	}

	return &Catalog{chains: chains}, nil
}

// Lookup resolves id to a chain
func (c *Catalog) Lookup(id string) (Chain, error) {
	chain, ok := c.chains[NormalizeChainID(id)]
	if !ok {
		return Chain{}, fmt.Errorf("unknown chain '%s'. Supported chains: %s", id, strings.Join(KnownChainIDs(), ", "))
	}
	return chain, nil
}

// Chains returns every chain in the catalog, sorted by id
func (c *Catalog) Chains() []Chain {
	out := make([]Chain, 0, len(c.chains))
	for _, id := range KnownChainIDs() {
		out = append(out, c.chains[id])
	}
	return out
}
