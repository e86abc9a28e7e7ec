package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/greengrove/tut-engine/internal/adapter"
	"github.com/greengrove/tut-engine/internal/domain"
)

// tutTokenABI covers the slice of the TUT contract this service touches:
// balance reads, reward/redeem writes and their emitted events.
const tutTokenABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"reward","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"amount","type":"uint256"},{"name":"reason","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"batchReward","stateMutability":"nonpayable","inputs":[{"name":"accounts","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"reason","type":"uint8"}],"outputs":[]},
	{"type":"event","name":"Rewarded","inputs":[{"name":"account","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"reason","type":"uint8","indexed":false}],"anonymous":false},
	{"type":"event","name":"Redeemed","inputs":[{"name":"account","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

// Event signatures
var (
	// Rewarded(address indexed account, uint256 amount, uint8 reason)
	rewardedEventSignature = crypto.Keccak256Hash([]byte("Rewarded(address,uint256,uint8)"))

	// Redeemed(address indexed account, uint256 amount)
	redeemedEventSignature = crypto.Keccak256Hash([]byte("Redeemed(address,uint256)"))
)

// ErrNoSigner is returned from write calls when the client has no signing key configured
var ErrNoSigner = errors.New("contract client has no signing key")

// Config holds the configuration for the TUT contract client
type Config struct {
	ContractAddress string
	// PrivateKey is the hex-encoded key of the contract operator account.
	// Optional; write calls fail with ErrNoSigner without it.
	PrivateKey      string
	CallTimeout     time.Duration
	MaxRetryElapsed time.Duration
}

// Client talks to the TUT token contract
//
//go:generate mockgen -source=client.go -destination=../../mocks/tutcontract.go -package=mocks -mock_names=Client=MockContractClient
type Client interface {
	// BalanceOf returns the raw on-chain balance of a wallet in base units
	BalanceOf(ctx context.Context, wallet string) (*big.Int, error)

	// TokenBalance returns the on-chain balance of a wallet in whole tokens,
	// retrying transient RPC failures
	TokenBalance(ctx context.Context, wallet string) (int64, error)

	// Reward submits a reward transaction and returns the transaction hash
	Reward(ctx context.Context, wallet string, amount int64, reason domain.ReasonCode) (string, error)

	// BatchReward submits one transaction rewarding several wallets at once
	BatchReward(ctx context.Context, wallets []string, amounts []int64, reason domain.ReasonCode) (string, error)

	// Redeem submits a redeem transaction and returns the transaction hash
	Redeem(ctx context.Context, wallet string, amount int64) (string, error)

	// ParseTokenEventLog parses a contract log into a token event,
	// returning nil for logs that are neither Rewarded nor Redeemed
	ParseTokenEventLog(ctx context.Context, vLog types.Log) (*domain.ChainTokenEvent, error)

	// WalletActivity returns the Rewarded and Redeemed events of a wallet
	// within a block range (toBlock 0 means latest)
	WalletActivity(ctx context.Context, wallet string, fromBlock, toBlock uint64) ([]domain.ChainTokenEvent, error)

	// Close closes the underlying connection
	Close()
}

type client struct {
	eth      adapter.EthClient
	contract common.Address
	parsedABI abi.ABI
	cfg      Config

	signerKey *ecdsa.PrivateKey
	signerAddr common.Address

	decimalsMu      sync.Mutex
	decimals        uint8
	decimalsFetched bool
}

// NewClient creates a new TUT contract client
func NewClient(cfg Config, eth adapter.EthClient) (Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(tutTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	c := &client{
		eth:       eth,
		contract:  common.HexToAddress(cfg.ContractAddress),
		parsedABI: parsedABI,
		cfg:       cfg,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse operator key: %w", err)
		}
		c.signerKey = key
		c.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// BalanceOf returns the raw on-chain balance of a wallet in base units
func (c *client) BalanceOf(ctx context.Context, wallet string) (*big.Int, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("invalid wallet address %q", wallet)
	}

	data, err := c.parsedABI.Pack("balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	result, err := c.call(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	var balance *big.Int
	if err := c.parsedABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}

	return balance, nil
}

// TokenBalance returns the on-chain balance of a wallet in whole tokens,
// retrying transient RPC failures with exponential backoff
func (c *client) TokenBalance(ctx context.Context, wallet string) (int64, error) {
	var raw *big.Int

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxRetryElapsed

	err := backoff.Retry(func() error {
		var callErr error
		raw, callErr = c.BalanceOf(ctx, wallet)
		return callErr
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return 0, err
	}

	return c.toWholeTokens(ctx, raw)
}

// Reward submits a reward transaction and returns the transaction hash
func (c *client) Reward(ctx context.Context, wallet string, amount int64, reason domain.ReasonCode) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}

	units, err := c.toBaseUnits(ctx, amount)
	if err != nil {
		return "", err
	}

	data, err := c.parsedABI.Pack("reward", common.HexToAddress(wallet), units, reason.ContractReasonCode())
	if err != nil {
		return "", fmt.Errorf("failed to pack reward call: %w", err)
	}

	return c.submit(ctx, data)
}

// BatchReward submits one transaction rewarding several wallets at once
func (c *client) BatchReward(ctx context.Context, wallets []string, amounts []int64, reason domain.ReasonCode) (string, error) {
	if len(wallets) == 0 || len(wallets) != len(amounts) {
		return "", fmt.Errorf("mismatched batch: %d wallets, %d amounts", len(wallets), len(amounts))
	}

	addrs := make([]common.Address, len(wallets))
	units := make([]*big.Int, len(amounts))
	for i, w := range wallets {
		if !common.IsHexAddress(w) {
			return "", fmt.Errorf("invalid wallet address %q", w)
		}
		addrs[i] = common.HexToAddress(w)

		u, err := c.toBaseUnits(ctx, amounts[i])
		if err != nil {
			return "", err
		}
		units[i] = u
	}

	data, err := c.parsedABI.Pack("batchReward", addrs, units, reason.ContractReasonCode())
	if err != nil {
		return "", fmt.Errorf("failed to pack batchReward call: %w", err)
	}

	return c.submit(ctx, data)
}

// Redeem submits a redeem transaction and returns the transaction hash
func (c *client) Redeem(ctx context.Context, wallet string, amount int64) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid wallet address %q", wallet)
	}

	units, err := c.toBaseUnits(ctx, amount)
	if err != nil {
		return "", err
	}

	data, err := c.parsedABI.Pack("redeem", common.HexToAddress(wallet), units)
	if err != nil {
		return "", fmt.Errorf("failed to pack redeem call: %w", err)
	}

	return c.submit(ctx, data)
}

// ParseTokenEventLog parses a contract log into a token event
func (c *client) ParseTokenEventLog(ctx context.Context, vLog types.Log) (*domain.ChainTokenEvent, error) {
	if len(vLog.Topics) < 2 {
		return nil, nil
	}

	// Amounts are converted to whole tokens
	if _, err := c.fetchDecimals(ctx); err != nil {
		return nil, err
	}

	event := domain.ChainTokenEvent{
		Wallet:      common.HexToAddress(vLog.Topics[1].Hex()).Hex(),
		TxHash:      vLog.TxHash.Hex(),
		BlockNumber: vLog.BlockNumber,
	}

	switch vLog.Topics[0] {
	case rewardedEventSignature:
		values, err := c.parsedABI.Unpack("Rewarded", vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Rewarded event: %w", err)
		}
		if len(values) != 2 {
			return nil, fmt.Errorf("unexpected Rewarded event shape: %d values", len(values))
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected Rewarded amount type %T", values[0])
		}
		reason, ok := values[1].(uint8)
		if !ok {
			return nil, fmt.Errorf("unexpected Rewarded reason type %T", values[1])
		}

		event.Type = domain.TransactionTypeReward
		event.Reason = reason
		whole, err := c.rawToWholeTokens(amount)
		if err != nil {
			return nil, err
		}
		event.Amount = whole
		return &event, nil

	case redeemedEventSignature:
		values, err := c.parsedABI.Unpack("Redeemed", vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack Redeemed event: %w", err)
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("unexpected Redeemed event shape: %d values", len(values))
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected Redeemed amount type %T", values[0])
		}

		event.Type = domain.TransactionTypeRedemption
		whole, err := c.rawToWholeTokens(amount)
		if err != nil {
			return nil, err
		}
		event.Amount = whole
		return &event, nil
	}

	// Not a token event this service cares about
	return nil, nil
}

// WalletActivity returns the Rewarded and Redeemed events of a wallet within a block range
func (c *client) WalletActivity(ctx context.Context, wallet string, fromBlock, toBlock uint64) ([]domain.ChainTokenEvent, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("invalid wallet address %q", wallet)
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Topics: [][]common.Hash{
			{rewardedEventSignature, redeemedEventSignature},
			{common.BytesToHash(common.HexToAddress(wallet).Bytes())},
		},
	}
	if toBlock > 0 {
		query.ToBlock = new(big.Int).SetUint64(toBlock)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	logs, err := c.eth.FilterLogs(callCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter wallet events: %w", err)
	}

	events := make([]domain.ChainTokenEvent, 0, len(logs))
	for _, vLog := range logs {
		event, err := c.ParseTokenEventLog(ctx, vLog)
		if err != nil {
			return nil, err
		}
		if event == nil {
			continue
		}
		events = append(events, *event)
	}

	return events, nil
}

// Close closes the underlying connection
func (c *client) Close() {
	if c.eth == nil {
		return
	}
	c.eth.Close()
}

func (c *client) call(ctx context.Context, data []byte) ([]byte, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	return c.eth.CallContract(callCtx, ethereum.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
}

// submit signs and sends a contract transaction with the operator key
func (c *client) submit(ctx context.Context, data []byte) (string, error) {
	if c.signerKey == nil {
		return "", ErrNoSigner
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	nonce, err := c.eth.PendingNonceAt(callCtx, c.signerAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(callCtx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(callCtx, ethereum.CallMsg{
		From: c.signerAddr,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	chainID, err := c.eth.ChainID(callCtx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.signerKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}

func (c *client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.CallTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// fetchDecimals reads the contract's decimals, caching on first success
func (c *client) fetchDecimals(ctx context.Context) (uint8, error) {
	c.decimalsMu.Lock()
	defer c.decimalsMu.Unlock()

	if c.decimalsFetched {
		return c.decimals, nil
	}

	data, err := c.parsedABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals call: %w", err)
	}

	result, err := c.call(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("decimals call failed: %w", err)
	}

	if err := c.parsedABI.UnpackIntoInterface(&c.decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack decimals result: %w", err)
	}

	c.decimalsFetched = true
	return c.decimals, nil
}

func (c *client) toWholeTokens(ctx context.Context, raw *big.Int) (int64, error) {
	if _, err := c.fetchDecimals(ctx); err != nil {
		return 0, err
	}
	return c.rawToWholeTokens(raw)
}

func (c *client) rawToWholeTokens(raw *big.Int) (int64, error) {
	whole := new(big.Int).Div(raw, c.unitFactor())
	if !whole.IsInt64() {
		return 0, fmt.Errorf("on-chain balance %s overflows int64", whole)
	}
	return whole.Int64(), nil
}

func (c *client) toBaseUnits(ctx context.Context, amount int64) (*big.Int, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("token amount must be positive, got %d", amount)
	}
	if _, err := c.fetchDecimals(ctx); err != nil {
		return nil, err
	}
	return new(big.Int).Mul(big.NewInt(amount), c.unitFactor()), nil
}

func (c *client) unitFactor() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.decimals)), nil)
}
