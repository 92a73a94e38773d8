package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// viewMethods lists every read-only contract function the reader calls as
// name, input types, output types. Selectors depend only on the name and
// inputs, so one merged ABI serves all protocol contracts.
var viewMethods = []struct {
	name    string
	inputs  []string
	outputs []string
}{
	// PriceFeed
	{"lastGoodPrice", nil, []string{"uint256"}},

	// VaultManager
	{"getVaultOwnersCount", nil, []string{"uint256"}},
	{"getEntireSystemColl", nil, []string{"uint256"}},
	{"getEntireSystemDebt", nil, []string{"uint256"}},
	{"L_ETH", nil, []string{"uint256"}},
	{"L_BPDDebt", nil, []string{"uint256"}},
	{"Vaults", []string{"address"}, []string{"uint256", "uint256", "uint256", "uint8", "uint128"}},
	{"rewardSnapshots", []string{"address"}, []string{"uint256", "uint256"}},
	{"getEntireDebtAndColl", []string{"address"}, []string{"uint256", "uint256", "uint256", "uint256"}},
	{"baseRate", nil, []string{"uint256"}},
	{"lastFeeOperationTime", nil, []string{"uint256"}},

	// SortedVaults
	{"getSize", nil, []string{"uint256"}},
	{"getFirst", nil, []string{"address"}},
	{"getLast", nil, []string{"address"}},
	{"getPrev", []string{"address"}, []string{"address"}},
	{"getNext", []string{"address"}, []string{"address"}},
	{"findInsertPosition", []string{"uint256", "address", "address"}, []string{"address", "address"}},

	// HintHelpers
	{"getApproxHint", []string{"uint256", "uint256", "uint256"}, []string{"address", "uint256", "uint256"}},

	// BPDToken, MPToken
	{"balanceOf", []string{"address"}, []string{"uint256"}},

	// StabilityPool
	{"getTotalBPDDeposits", nil, []string{"uint256"}},
	{"deposits", []string{"address"}, []string{"uint256", "address"}},
	{"getCompoundedBPDDeposit", []string{"address"}, []string{"uint256"}},
	{"getDepositorETHGain", []string{"address"}, []string{"uint256"}},
	{"getDepositorMPGain", []string{"address"}, []string{"uint256"}},

	// MPStaking
	{"stakes", []string{"address"}, []string{"uint256"}},
	{"totalMPStaked", nil, []string{"uint256"}},
	{"getPendingETHGain", []string{"address"}, []string{"uint256"}},
	{"getPendingBPDGain", []string{"address"}, []string{"uint256"}},

	// CollSurplusPool
	{"getCollateral", []string{"address"}, []string{"uint256"}},
}

var protocolABI = buildABI()

func buildABI() abi.ABI {
	parsed := abi.ABI{Methods: make(map[string]abi.Method, len(viewMethods))}
	for _, m := range viewMethods {
		parsed.Methods[m.name] = abi.NewMethod(m.name, m.name, abi.Function, "view", true, false,
			mustArguments(m.inputs), mustArguments(m.outputs))
	}
	return parsed
}

func mustArguments(types []string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("chain: abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}
