package loyalty

import (
	"context"
	"fmt"
	"math/big"
)

// Minter is the on-chain capability the special quests use.
type Minter interface {
	BalanceOf(ctx context.Context, contract string) (*big.Int, error)
	NativeBalance(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, contract string, calldata string, value *big.Int) (string, error)
}

const (
	pictographsContract = "0x37Cbfa07386dD09297575e6C699fe45611AC12FE"
	pictographsCalldata = "0x14f710fe"

	bleetzContract = "0x0b0A5B8e848b27a05D5cf45CAab72BC82dF48546"
	bleetzCalldata = "0xae873a3f"
)

// minGasBalance is 0.000001 CAMP.
var minGasBalance = big.NewInt(1_000_000_000_000)

// MintAction mints from contract unless the wallet already holds one.
// Too little gas money is a definitive negative.
func MintAction(m Minter, contract, calldata string) SpecialAction {
	return func(ctx context.Context) (bool, error) {
		held, err := m.BalanceOf(ctx, contract)
		if err != nil {
			return false, fmt.Errorf("failed to read nft balance: %w", err)
		}
		if held.Sign() > 0 {
			return true, nil
		}

		native, err := m.NativeBalance(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to read native balance: %w", err)
		}
		if native.Cmp(minGasBalance) < 0 {
			return false, nil
		}

		if _, err := m.SendTransaction(ctx, contract, calldata, big.NewInt(0)); err != nil {
			return false, fmt.Errorf("mint failed: %w", err)
		}
		return true, nil
	}
}

// SpecialActions is the allow-list of quests completed on chain.
func SpecialActions(m Minter) map[string]SpecialAction {
	if m == nil {
		return nil
	}
	return map[string]SpecialAction{
		QuestPictographs: MintAction(m, pictographsContract, pictographsCalldata),
		QuestBleetz:      MintAction(m, bleetzContract, bleetzCalldata),
	}
}
