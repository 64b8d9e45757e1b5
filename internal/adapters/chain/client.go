package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ohmynofan/camp-loyalty-bot/internal/config"
	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/pkg/utils"
)

// balanceOf(address)
var balanceOfSelector = common.FromHex("0x70a08231")

var ErrTxReverted = errors.New("transaction reverted")

const receiptTimeout = 3 * time.Minute

type EthersClient struct {
	client     *ethclient.Client
	network    config.Network
	identity   *model.Identity
	log        *logger.ClassLogger
	ownsClient bool
}

func New(identity *model.Identity, network config.Network) (*EthersClient, error) {
	scope := "[New EtherClient] Error :"
	ec := &EthersClient{network: network, identity: identity, ownsClient: true}
	ec.log = logger.NewLogger(ec, identity)
	ec.log.Log(fmt.Sprintf("Initializing Ethers Client on %s...", network.Name))

	client, err := ethclient.Dial(network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%s failed to connect RPC (%s): %w", scope, network.Name, err)
	}
	ec.client = client
	return ec, nil
}

// NewOffline builds a client that can only derive keys and sign messages.
func NewOffline(identity *model.Identity, network config.Network) *EthersClient {
	ec := &EthersClient{network: network, identity: identity}
	ec.log = logger.NewLogger(ec, identity)
	return ec
}

func (e *EthersClient) Close() {
	if e.client != nil && e.ownsClient {
		e.client.Close()
	}
}

func (e *EthersClient) ConnectWallet() error {
	scope := "[ConnectWallet] Error :"
	data := strings.TrimSpace(e.identity.Account)
	if data == "" {
		e.identity.Address = ""
		return fmt.Errorf("%s invalid account input (seed or private key)", scope)
	}

	e.log.Log(fmt.Sprintf("Connecting to Account : %d", e.identity.AccIdx+1))

	var addr common.Address
	var privateKey *ecdsa.PrivateKey

	switch utils.DetermineType(data) {
	case "Secret Phrase":
		a, pk, err := utils.AddressFromMnemonic(data, "")
		if err != nil {
			e.identity.Address = ""
			return fmt.Errorf("%s failed to read from seed phrase: %w", scope, err)
		}
		addr = a
		privateKey = pk
	case "Private Key":
		pk, err := utils.PrivateKeyFromHex(data)
		if err != nil {
			e.identity.Address = ""
			return fmt.Errorf("%s invalid private key: %w", scope, err)
		}
		addr = crypto.PubkeyToAddress(pk.PublicKey)
		privateKey = pk
	default:
		e.identity.Address = ""
		return fmt.Errorf("%s invalid account: Secret Phrase or Private Key required", scope)
	}

	e.identity.Address = addr.Hex()
	e.identity.PublicKey = addr
	e.identity.PrivateKey = privateKey
	e.log.Log(fmt.Sprintf("Wallet connected %s", utils.ShortenAddress(e.identity.Address)))
	return nil
}

func (e *EthersClient) Address() string {
	if e.identity == nil {
		return ""
	}
	return e.identity.Address
}

func (e *EthersClient) ready() error {
	if e.client == nil || e.identity == nil {
		return fmt.Errorf("wallet client not initialized")
	}
	if (e.identity.PublicKey == common.Address{}) {
		return fmt.Errorf("wallet not connected")
	}
	return nil
}

func (e *EthersClient) NativeBalance(ctx context.Context) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	balance, err := e.client.BalanceAt(ctx, e.identity.PublicKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	return balance, nil
}

func (e *EthersClient) GetWalletBalance(ctx context.Context) error {
	balance, err := e.NativeBalance(ctx)
	if err != nil {
		return err
	}

	e.identity.WalletBalance.Balances = []model.TokenBalance{
		{
			Symbol:     e.network.Symbol,
			Balance:    *balance,
			BalanceStr: utils.FormatUnits(balance, e.network.Decimals),
		},
	}

	e.log.Log(fmt.Sprintf("Wallet balance fetched: %s %s", utils.FormatUnits(balance, e.network.Decimals), e.network.Symbol))
	return nil
}

// BalanceOf calls balanceOf(owner) on an ERC-20/721 contract for the
// connected wallet.
func (e *EthersClient) BalanceOf(ctx context.Context, contract string) (*big.Int, error) {
	scope := "[BalanceOf] Error :"
	if err := e.ready(); err != nil {
		return nil, fmt.Errorf("%s %w", scope, err)
	}
	to := common.HexToAddress(contract)
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(e.identity.PublicKey.Bytes(), 32)...)

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", scope, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// SendTransaction signs an EIP-1559 transaction to contract with calldata
// and waits for its receipt. It returns the tx hash.
func (e *EthersClient) SendTransaction(ctx context.Context, contract string, calldata string, value *big.Int) (string, error) {
	scope := "[SendTransaction] Error :"
	if err := e.ready(); err != nil {
		return "", fmt.Errorf("%s %w", scope, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}

	from := e.identity.PublicKey
	to := common.HexToAddress(contract)
	data := common.FromHex(calldata)

	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%s failed to fetch nonce: %w", scope, err)
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("%s failed to fetch gas tip: %w", scope, err)
	}
	head, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%s failed to fetch head: %w", scope, err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := e.client.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return "", fmt.Errorf("%s failed to estimate gas: %w", scope, err)
	}

	chainID := big.NewInt(e.network.ChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 12 / 10,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.identity.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%s failed to sign tx: %w", scope, err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%s failed to send tx: %w", scope, err)
	}

	hash := signed.Hash().Hex()
	e.log.Log(fmt.Sprintf("Transaction sent %s%s", e.explorerTx(), hash))

	receipt, err := e.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return hash, fmt.Errorf("%s %w", scope, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("%s %w: %s", scope, ErrTxReverted, hash)
	}
	e.log.Log(fmt.Sprintf("Transaction confirmed in block %s", receipt.BlockNumber))
	return hash, nil
}

func (e *EthersClient) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *EthersClient) explorerTx() string {
	if e.network.Explorer == "" {
		return ""
	}
	return strings.TrimRight(e.network.Explorer, "/") + "/tx/"
}

// SignMessage produces a personal_sign signature with v in {27, 28}.
func (e *EthersClient) SignMessage(message string) (string, error) {
	scope := "[SignMessage] Error :"
	if e.identity == nil || e.identity.PrivateKey == nil {
		return "", fmt.Errorf("%s wallet is not connected", scope)
	}

	msgHash := accounts.TextHash([]byte(message))
	signature, err := crypto.Sign(msgHash, e.identity.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("%s failed to sign message: %w", scope, err)
	}

	if signature[64] < 27 {
		signature[64] += 27
	}

	e.log.JustLog("Message successfully signed")
	return hexutil.Encode(signature), nil
}
