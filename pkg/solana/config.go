package solana

import "strings"

type Environment string

const (
	EnvironmentLocal Environment = "http://127.0.0.1:8899"
	EnvironmentDev   Environment = "https://api.devnet.solana.com"
	EnvironmentTest  Environment = "https://api.testnet.solana.com"
	EnvironmentProd  Environment = "https://api.mainnet-beta.solana.com"
)

// SupportsAirdrop reports whether the cluster runs a faucet. Endpoints that
// name mainnet in their URL, such as third-party mainnet RPC providers, are
// treated like the public mainnet endpoint.
func (e Environment) SupportsAirdrop() bool {
	if e == EnvironmentProd {
		return false
	}
	return !strings.Contains(strings.ToLower(string(e)), "mainnet")
}
