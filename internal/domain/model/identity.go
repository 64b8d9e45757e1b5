package model

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is one automated wallet actor for the duration of a run.
type Identity struct {
	Account       string
	AccIdx        int
	Address       string
	PublicKey     common.Address
	PrivateKey    *ecdsa.PrivateKey
	Proxy         string
	TwitterToken  string
	DiscordToken  string
	Email         string
	WalletBalance WalletBalance

	LoginStatus   string
	CurrentTask   string
	TasksDone     int
	TasksTotal    int
	QuestsDone    int
	QuestsFailed  int
	ClearanceFrom string
}

// Key is the stable storage key for this identity.
func (i *Identity) Key() string {
	if i == nil {
		return ""
	}
	return IdentityKey(i.Account)
}
