package ethereum_test

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"testing"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/providers/ethereum"
)

const (
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	testWallet   = "0x1111111111111111111111111111111111111111"
)

var (
	rewardedSig = crypto.Keccak256Hash([]byte("Rewarded(address,uint256,uint8)"))
	redeemedSig = crypto.Keccak256Hash([]byte("Redeemed(address,uint256)"))
	transferSig = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// fakeEthClient answers eth_call by method selector and serves canned logs
type fakeEthClient struct {
	responses map[string][]byte
	logs      []types.Log
	lastQuery goethereum.FilterQuery
}

func newFakeEthClient(decimals uint8) *fakeEthClient {
	f := &fakeEthClient{responses: make(map[string][]byte)}
	f.respond("decimals()", encodeUint(big.NewInt(int64(decimals))))
	return f
}

func (f *fakeEthClient) respond(signature string, data []byte) {
	selector := hex.EncodeToString(crypto.Keccak256([]byte(signature))[:4])
	f.responses[selector] = data
}

func (f *fakeEthClient) CallContract(_ context.Context, msg goethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f.responses[hex.EncodeToString(msg.Data[:4])], nil
}

func (f *fakeEthClient) FilterLogs(_ context.Context, query goethereum.FilterQuery) ([]types.Log, error) {
	f.lastQuery = query
	return f.logs, nil
}

func (f *fakeEthClient) SubscribeFilterLogs(context.Context, goethereum.FilterQuery, chan<- types.Log) (goethereum.Subscription, error) {
	return nil, nil
}

func (f *fakeEthClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100)}, nil
}

func (f *fakeEthClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeEthClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeEthClient) EstimateGas(context.Context, goethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (f *fakeEthClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(11155111), nil
}

func (f *fakeEthClient) SendTransaction(context.Context, *types.Transaction) error {
	return nil
}

func (f *fakeEthClient) Close() {}

func encodeUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func newTestClient(t *testing.T, eth *fakeEthClient) ethereum.Client {
	t.Helper()
	client, err := ethereum.NewClient(ethereum.Config{
		ContractAddress: testContract,
		CallTimeout:     time.Second,
		MaxRetryElapsed: time.Second,
	}, eth)
	require.NoError(t, err)
	return client
}

func walletTopic(wallet string) common.Hash {
	return common.BytesToHash(common.HexToAddress(wallet).Bytes())
}

func rewardedLog(wallet string, rawAmount *big.Int, reason uint8, block uint64) types.Log {
	data := append(encodeUint(rawAmount), encodeUint(big.NewInt(int64(reason)))...)
	return types.Log{
		Address:     common.HexToAddress(testContract),
		Topics:      []common.Hash{rewardedSig, walletTopic(wallet)},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0xaa"),
	}
}

func redeemedLog(wallet string, rawAmount *big.Int, block uint64) types.Log {
	return types.Log{
		Address:     common.HexToAddress(testContract),
		Topics:      []common.Hash{redeemedSig, walletTopic(wallet)},
		Data:        encodeUint(rawAmount),
		BlockNumber: block,
		TxHash:      common.HexToHash("0xbb"),
	}
}

func TestNewClientRejectsBadAddress(t *testing.T) {
	_, err := ethereum.NewClient(ethereum.Config{ContractAddress: "not-an-address"}, newFakeEthClient(0))
	assert.Error(t, err)
}

func TestTokenBalanceConvertsToWholeTokens(t *testing.T) {
	eth := newFakeEthClient(2)
	eth.respond("balanceOf(address)", encodeUint(big.NewInt(12345)))

	client := newTestClient(t, eth)

	balance, err := client.TokenBalance(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Equal(t, int64(123), balance)
}

func TestParseTokenEventLogRewarded(t *testing.T) {
	client := newTestClient(t, newFakeEthClient(2))

	event, err := client.ParseTokenEventLog(context.Background(), rewardedLog(testWallet, big.NewInt(500), 3, 42))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.TransactionTypeReward, event.Type)
	assert.Equal(t, common.HexToAddress(testWallet).Hex(), event.Wallet)
	assert.Equal(t, int64(5), event.Amount)
	assert.Equal(t, uint8(3), event.Reason)
	assert.Equal(t, uint64(42), event.BlockNumber)
}

func TestParseTokenEventLogRedeemed(t *testing.T) {
	client := newTestClient(t, newFakeEthClient(0))

	event, err := client.ParseTokenEventLog(context.Background(), redeemedLog(testWallet, big.NewInt(120), 43))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.TransactionTypeRedemption, event.Type)
	assert.Equal(t, int64(120), event.Amount)
}

func TestParseTokenEventLogIgnoresForeignEvents(t *testing.T) {
	client := newTestClient(t, newFakeEthClient(0))

	event, err := client.ParseTokenEventLog(context.Background(), types.Log{
		Topics: []common.Hash{transferSig, walletTopic(testWallet)},
		Data:   encodeUint(big.NewInt(1)),
	})
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestWalletActivityFiltersByWallet(t *testing.T) {
	eth := newFakeEthClient(0)
	eth.logs = []types.Log{
		rewardedLog(testWallet, big.NewInt(50), 1, 10),
		redeemedLog(testWallet, big.NewInt(20), 11),
	}

	client := newTestClient(t, eth)

	events, err := client.WalletActivity(context.Background(), testWallet, 5, 20)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(50), events[0].Amount)
	assert.Equal(t, domain.TransactionTypeRedemption, events[1].Type)

	// The filter pins the contract address, event signatures and wallet topic
	require.Len(t, eth.lastQuery.Addresses, 1)
	assert.Equal(t, common.HexToAddress(testContract), eth.lastQuery.Addresses[0])
	require.Len(t, eth.lastQuery.Topics, 2)
	assert.Contains(t, eth.lastQuery.Topics[0], rewardedSig)
	assert.Contains(t, eth.lastQuery.Topics[0], redeemedSig)
	assert.Equal(t, big.NewInt(5), eth.lastQuery.FromBlock)
	assert.Equal(t, big.NewInt(20), eth.lastQuery.ToBlock)
}

func TestWriteCallsRequireSigner(t *testing.T) {
	client := newTestClient(t, newFakeEthClient(0))

	_, err := client.Reward(context.Background(), testWallet, 10, domain.ReasonTreeAdoption)
	assert.ErrorIs(t, err, ethereum.ErrNoSigner)

	_, err = client.Redeem(context.Background(), testWallet, 10)
	assert.ErrorIs(t, err, ethereum.ErrNoSigner)
}

func TestRewardSignsAndSubmits(t *testing.T) {
	eth := newFakeEthClient(0)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	client, err := ethereum.NewClient(ethereum.Config{
		ContractAddress: testContract,
		PrivateKey:      hex.EncodeToString(crypto.FromECDSA(key)),
		CallTimeout:     time.Second,
	}, eth)
	require.NoError(t, err)

	txHash, err := client.Reward(context.Background(), testWallet, 10, domain.ReasonTreeAdoption)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)
}

func TestBatchRewardRejectsMismatchedInput(t *testing.T) {
	client := newTestClient(t, newFakeEthClient(0))

	_, err := client.BatchReward(context.Background(), []string{testWallet}, []int64{1, 2}, domain.ReasonAchievement)
	assert.Error(t, err)

	_, err = client.BatchReward(context.Background(), nil, nil, domain.ReasonAchievement)
	assert.Error(t, err)
}
