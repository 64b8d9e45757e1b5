package config

type Network struct {
	Name     string
	ChainID  int64
	RPCURL   string
	Explorer string
	Symbol   string
	Decimals int
}

var CampBasecamp = Network{
	Name:     "Camp Network Basecamp",
	ChainID:  123420001114,
	RPCURL:   "https://rpc.basecamp.t.raas.gelato.cloud",
	Explorer: "https://basecamp.cloud.blockscout.com/",
	Symbol:   "CAMP",
	Decimals: 18,
}

// WithRPC returns a copy of n pointed at rpcURL, or n itself when rpcURL is empty.
func (n Network) WithRPC(rpcURL string) Network {
	if rpcURL != "" {
		n.RPCURL = rpcURL
	}
	return n
}
