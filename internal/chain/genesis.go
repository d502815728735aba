// Package chain reads the genesis key contract views the sign-in flow
// treats as authoritative for claim and referral facts.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vmcc-dao/backend/internal/apperr"
	"go.uber.org/zap"
)

const genesisABI = `[
	{"type":"function","name":"hasClaimed","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"downlineToUplineId","stateMutability":"view",
	 "inputs":[{"name":"downline","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var ErrInvalidAddress = apperr.New(apperr.KindValidation, "InvalidAddress", "not an EVM address")

// Reader is what the auth flows need from the chain.
type Reader interface {
	HasClaimed(ctx context.Context, wallet string) (bool, error)
	UplineID(ctx context.Context, wallet string) (*int64, error)
}

// GenesisReader calls the view functions through any ethereum.ContractCaller
// (an *ethclient.Client in production).
type GenesisReader struct {
	caller   ethereum.ContractCaller
	contract common.Address
	abi      abi.ABI
	log      *zap.Logger
}

func NewGenesisReader(caller ethereum.ContractCaller, contract string, log *zap.Logger) (*GenesisReader, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("genesis contract %q: %w", contract, ErrInvalidAddress)
	}
	parsed, err := abi.JSON(strings.NewReader(genesisABI))
	if err != nil {
		return nil, fmt.Errorf("parse genesis abi: %w", err)
	}
	return &GenesisReader{
		caller:   caller,
		contract: common.HexToAddress(contract),
		abi:      parsed,
		log:      log,
	}, nil
}

// Dial connects to rpcURL. Close the returned client on shutdown.
func Dial(ctx context.Context, rpcURL, contract string, log *zap.Logger) (*GenesisReader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	r, err := NewGenesisReader(client, contract, log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r, client, nil
}

func (g *GenesisReader) HasClaimed(ctx context.Context, wallet string) (bool, error) {
	out, err := g.call(ctx, "hasClaimed", wallet)
	if err != nil {
		return false, err
	}
	claimed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("hasClaimed: unexpected output %T", out[0])
	}
	return claimed, nil
}

// UplineID returns nil when no upline is registered (id 0).
func (g *GenesisReader) UplineID(ctx context.Context, wallet string) (*int64, error) {
	out, err := g.call(ctx, "downlineToUplineId", wallet)
	if err != nil {
		return nil, err
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("downlineToUplineId: unexpected output %T", out[0])
	}
	if id.Sign() == 0 {
		return nil, nil
	}
	if !id.IsInt64() {
		return nil, fmt.Errorf("downlineToUplineId: id %s overflows int64", id)
	}
	v := id.Int64()
	return &v, nil
}

func (g *GenesisReader) call(ctx context.Context, method, wallet string) ([]interface{}, error) {
	if !common.IsHexAddress(wallet) {
		return nil, ErrInvalidAddress
	}
	data, err := g.abi.Pack(method, common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := g.caller.CallContract(ctx, ethereum.CallMsg{To: &g.contract, Data: data}, nil)
	if err != nil {
		g.log.Warn("contract call failed", zap.String("method", method), zap.String("wallet", wallet), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindUpstream, "ChainReadFailed", method+" call failed", err)
	}
	out, err := g.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	return out, nil
}
