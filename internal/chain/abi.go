package chain

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// distributorABIJSON covers the two entry points of the distribution
// contract: loading a batch of recipients and paying out loaded amounts.
const distributorABIJSON = `[
  {
    "type": "function",
    "name": "setDistribution",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "wallets", "type": "address[]"},
      {"name": "amounts", "type": "uint256[]"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "distribute",
    "stateMutability": "nonpayable",
    "inputs": [],
    "outputs": []
  }
]`

var distributorABI = mustParseABI(distributorABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DistributorABI returns the built-in contract ABI.
func DistributorABI() abi.ABI { return distributorABI }

// LoadABI reads a JSON ABI file. Hardhat/Foundry artifacts that wrap the
// ABI in an object are not supported; pass the bare array.
func LoadABI(path string) (*abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open abi: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return nil, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return &parsed, nil
}

// RequireMethods reports the first of names the ABI does not define.
func RequireMethods(a *abi.ABI, names ...string) error {
	for _, n := range names {
		if _, ok := a.Methods[n]; !ok {
			return fmt.Errorf("abi has no method %q", n)
		}
	}
	return nil
}
