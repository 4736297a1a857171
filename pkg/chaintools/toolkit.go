package chaintools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/dotagent/pkg/tools"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout bounds a single sidecar request
const DefaultRequestTimeout = 30 * time.Second

// Config configures the chain tools
type Config struct {
	// Endpoints overrides default RPC and sidecar URLs per chain id.
	Endpoints      map[string]Endpoint
	RequestTimeout time.Duration
}

// Toolkit owns the network clients shared by the chain tools
type Toolkit struct {
	catalog *Catalog
	rpc     *RPCPool
	timeout time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	sidecars map[string]*SidecarClient
}

// NewToolkit creates a toolkit. No connection is opened until a tool runs.
func NewToolkit(cfg Config, logger zerolog.Logger) (*Toolkit, error) {
	catalog, err := NewCatalog(cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger = logger.With().Str("component", "chaintools").Logger()
	return &Toolkit{
		catalog:  catalog,
		rpc:      NewRPCPool(logger),
		timeout:  timeout,
		logger:   logger,
		sidecars: make(map[string]*SidecarClient),
	}, nil
}

// Catalog returns the chain catalog with overrides applied
func (t *Toolkit) Catalog() *Catalog {
	return t.catalog
}

// Tools returns every chain tool
func (t *Toolkit) Tools() []tools.Tool {
	return []tools.Tool{
		t.nominationInfoTool(),
		t.balanceTool(),
		t.chainHeadTool(),
		t.accountNonceTool(),
		t.chainPropertiesTool(),
		t.listChainsTool(),
	}
}

// Register adds every chain tool to reg
func (t *Toolkit) Register(reg *tools.Registry) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	for _, tool := range t.Tools() {
		if err := reg.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return nil
}

// Close releases open node connections
func (t *Toolkit) Close() error {
	return t.rpc.Close()
}

func (t *Toolkit) sidecar(chain Chain) (*SidecarClient, error) {
	if chain.SidecarURL == "" {
		return nil, fmt.Errorf("no sidecar endpoint configured for chain '%s'", chain.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if client, ok := t.sidecars[chain.ID]; ok {
		return client, nil
	}
	client := NewSidecarClient(chain.SidecarURL, t.timeout)
	t.sidecars[chain.ID] = client
	return client, nil
}

func (t *Toolkit) rpcFor(chainID string) (Chain, *RPCClient, error) {
	chain, err := t.catalog.Lookup(chainID)
	if err != nil {
		return Chain{}, nil, err
	}
	client, err := t.rpc.Client(chain)
	if err != nil {
		return Chain{}, nil, err
	}
	return chain, client, nil
}

var (
	accountParam = tools.Parameter{
		Name:        "account",
		Type:        "string",
		Description: "SS58 address of the account",
		Required:    true,
	}
	chainParam = tools.Parameter{
		Name:        "chain",
		Type:        "string",
		Description: "Chain id: " + strings.Join(KnownChainIDs(), ", "),
		Required:    true,
	}
)

func (t *Toolkit) nominationInfoTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_nomination_info",
		Description: "Fetch nomination pool membership details (pool points, state, roles, pending rewards) for a given account on an Asset Hub chain.",
		Parameters: []tools.Parameter{
			{
				Name:        "account",
				Type:        "string",
				Description: "SS58 address of the pool member",
				Required:    true,
			},
			{
				Name:        "chain",
				Type:        "string",
				Description: "Asset Hub chain ID that supports nomination pools (" + strings.Join(AssetHubChainIDs(), ", ") + ")",
				Required:    true,
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			account, chain, err := accountAndChain(args)
			if err != nil {
				return nil, err
			}
			return t.NominationInfo(ctx, account, chain)
		},
	})
}

func (t *Toolkit) balanceTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_balance",
		Description: "Fetch the free, reserved, frozen and transferable balance of an account. Amounts are in plancks (smallest unit).",
		Parameters:  []tools.Parameter{accountParam, chainParam},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			account, chainID, err := accountAndChain(args)
			if err != nil {
				return nil, err
			}
			chain, err := t.catalog.Lookup(chainID)
			if err != nil {
				return nil, err
			}
			address, _, err := ConvertAddress(account, chain)
			if err != nil {
				return nil, err
			}
			client, err := t.sidecar(chain)
			if err != nil {
				return nil, err
			}
			info, err := client.Balance(ctx, address)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"account":      address,
				"chain":        chain.ID,
				"symbol":       chain.Symbol,
				"decimals":     chain.Decimals,
				"free":         info.Free,
				"reserved":     info.Reserved,
				"frozen":       info.Frozen,
				"transferable": info.Transferable,
				"nonce":        info.Nonce,
				"blockNumber":  info.At.Height,
			}, nil
		},
	})
}

func (t *Toolkit) chainHeadTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_chain_head",
		Description: "Get the latest block number and hash of a chain.",
		Parameters:  []tools.Parameter{chainParam},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			chainID, err := stringArg(args, "chain")
			if err != nil {
				return nil, err
			}
			chain, client, err := t.rpcFor(chainID)
			if err != nil {
				return nil, err
			}
			head, err := ChainHead(ctx, client)
			if err != nil {
				return nil, err
			}
			head.Chain = chain.ID
			return head, nil
		},
	})
}

func (t *Toolkit) accountNonceTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_account_nonce",
		Description: "Get the next transaction index (nonce) of an account.",
		Parameters:  []tools.Parameter{accountParam, chainParam},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			account, chainID, err := accountAndChain(args)
			if err != nil {
				return nil, err
			}
			chain, client, err := t.rpcFor(chainID)
			if err != nil {
				return nil, err
			}
			address, _, err := ConvertAddress(account, chain)
			if err != nil {
				return nil, err
			}
			nonce, err := AccountNextIndex(ctx, client, address)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"account": address,
				"chain":   chain.ID,
				"nonce":   nonce,
			}, nil
		},
	})
}

func (t *Toolkit) chainPropertiesTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "get_chain_properties",
		Description: "Get the name, runtime version, token symbol, token decimals and SS58 format of a chain.",
		Parameters:  []tools.Parameter{chainParam},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			chainID, err := stringArg(args, "chain")
			if err != nil {
				return nil, err
			}
			chain, client, err := t.rpcFor(chainID)
			if err != nil {
				return nil, err
			}
			props, err := Properties(ctx, client)
			if err != nil {
				return nil, err
			}
			props.Chain = chain.ID
			return props, nil
		},
	})
}

func (t *Toolkit) listChainsTool() tools.Tool {
	return tools.NewFuncTool(tools.FuncToolConfig{
		Name:        "list_chains",
		Description: "List the supported chain ids with their token symbol and whether they host nomination pools.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			out := make([]map[string]interface{}, 0, len(t.catalog.chains))
			for _, chain := range t.catalog.Chains() {
				out = append(out, map[string]interface{}{
					"id":              chain.ID,
					"name":            chain.Name,
					"symbol":          chain.Symbol,
					"decimals":        chain.Decimals,
					"nominationPools": chain.AssetHub,
				})
			}
			return out, nil
		},
	})
}

func stringArg(args map[string]interface{}, name string) (string, error) {
	v, _ := args[name].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func accountAndChain(args map[string]interface{}) (string, string, error) {
	account, err := stringArg(args, "account")
	if err != nil {
		return "", "", err
	}
	chain, err := stringArg(args, "chain")
	if err != nil {
		return "", "", err
	}
	return account, chain, nil
}
