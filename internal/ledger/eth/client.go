// Package eth implements the ledger interfaces on an Ethereum node through
// go-ethereum. Transactions are sent with eth_sendTransaction, so oracle
// accounts must be unlocked on the node.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"flightoracle/internal/ledger"
	"flightoracle/internal/models"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// ErrReverted is returned when a transaction was mined but failed
var ErrReverted = errors.New("transaction reverted")

// Defaults
const (
	DefaultGas          = 4_712_388
	DefaultPollInterval = 500 * time.Millisecond
	logBufferSize       = 64
)

// Config configures the node connection
type Config struct {
	Log          *zap.Logger
	URL          string
	AppContract  common.Address
	DataContract common.Address
	// Gas limit attached to every transaction, zero lets the node estimate
	Gas uint64
	// PollInterval is the receipt polling period
	PollInterval time.Duration
}

var _ ledger.Ledger = (*Client)(nil)

// Client is a ledger.Ledger backed by an Ethereum node
type Client struct {
	Config

	rc   *rpc.Client
	ec   *ethclient.Client
	app  *bind.BoundContract
	data *bind.BoundContract
}

// Dial connects to the node. Subscriptions need a websocket or IPC endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	rc, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	ec := ethclient.NewClient(rc)

	if _, err := ec.ChainID(ctx); err != nil {
		rc.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	return &Client{
		Config: cfg,
		rc:     rc,
		ec:     ec,
		app:    bind.NewBoundContract(cfg.AppContract, appABI, ec, ec, ec),
		data:   bind.NewBoundContract(cfg.DataContract, dataABI, ec, ec, ec),
	}, nil
}

// Close closes the node connection
func (c *Client) Close() {
	c.rc.Close()
}

// Accounts returns the node's unlocked accounts
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// RegistrationFee reads the oracle registration fee
func (c *Client) RegistrationFee(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, c.app, common.Address{}, methodRegistrationFee)
	if err != nil {
		return nil, err
	}
	return value[*big.Int](out, 0, "fee")
}

// RegisterOracle registers from as an oracle, paying fee
func (c *Client) RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) error {
	input, err := appABI.Pack(methodRegisterOracle)
	if err != nil {
		return fmt.Errorf("pack %s: %w", methodRegisterOracle, err)
	}
	return c.transact(ctx, from, c.AppContract, fee, input)
}

// OracleIndexes reads the indexes assigned to oracle
func (c *Client) OracleIndexes(ctx context.Context, oracle common.Address) (models.Indexes, error) {
	out, err := c.call(ctx, c.app, oracle, methodGetMyIndexes)
	if err != nil {
		return models.Indexes{}, err
	}
	ix, err := value[[3]uint8](out, 0, "indexes")
	return models.Indexes(ix), err
}

// TotalFlightKeys returns the length of the ledger's flight-key sequence
func (c *Client) TotalFlightKeys(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.data, common.Address{}, methodTotalFlightKeys)
	if err != nil {
		return 0, err
	}
	total, err := value[*big.Int](out, 0, "total")
	if err != nil {
		return 0, err
	}
	return toUint64(total, "total")
}

// FlightKeyAt returns the flight key at position
func (c *Client) FlightKeyAt(ctx context.Context, position uint64) (common.Hash, error) {
	out, err := c.call(ctx, c.data, common.Address{}, methodFlightKeys, new(big.Int).SetUint64(position))
	if err != nil {
		return common.Hash{}, err
	}
	key, err := value[[32]byte](out, 0, "key")
	return common.Hash(key), err
}

// FlightKey derives the key of a flight identity on the ledger
func (c *Client) FlightKey(ctx context.Context, f models.FlightIdentity) (common.Hash, error) {
	out, err := c.call(ctx, c.data, common.Address{}, methodGetFlightKey,
		f.Airline, f.FlightCode, new(big.Int).SetUint64(f.DepartureTime))
	if err != nil {
		return common.Hash{}, err
	}
	key, err := value[[32]byte](out, 0, "key")
	return common.Hash(key), err
}

// Flight reads the flight stored under key
func (c *Client) Flight(ctx context.Context, key common.Hash) (models.FlightData, error) {
	out, err := c.call(ctx, c.data, common.Address{}, methodFlights, [32]byte(key))
	if err != nil {
		return models.FlightData{}, err
	}
	return projectFlight(out)
}

// SubmitOracleResponse sends one oracle response transaction
func (c *Client) SubmitOracleResponse(ctx context.Context, from common.Address, resp models.OracleResponse) error {
	input, err := appABI.Pack(methodSubmitResponse,
		resp.Index,
		resp.Flight.Airline,
		resp.Flight.FlightCode,
		new(big.Int).SetUint64(resp.Flight.DepartureTime),
		uint8(resp.Status),
	)
	if err != nil {
		return fmt.Errorf("pack %s: %w", methodSubmitResponse, err)
	}
	return c.transact(ctx, from, c.AppContract, nil, input)
}

// Subscribe streams the decoded events of kind into sink until the
// subscription is closed or fails
func (c *Client) Subscribe(ctx context.Context, kind models.EventKind, sink chan<- models.Event) (ethereum.Subscription, error) {
	defs := eventsOf(kind)
	if len(defs) == 0 {
		return nil, fmt.Errorf("no ledger events for %s", kind)
	}

	q := ethereum.FilterQuery{Topics: [][]common.Hash{nil}}
	var onApp, onData bool
	for _, d := range defs {
		q.Topics[0] = append(q.Topics[0], d.ev.ID)
		if d.onData {
			onData = true
		} else {
			onApp = true
		}
	}
	if onApp {
		q.Addresses = append(q.Addresses, c.AppContract)
	}
	if onData {
		q.Addresses = append(q.Addresses, c.DataContract)
	}

	logs := make(chan types.Log, logBufferSize)
	sub, err := c.ec.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}

	log := c.Log.With(zap.Stringer("kind", kind))
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					log.Debug("ignoring removed log", zap.Stringer("tx", l.TxHash))
					continue
				}
				ev, err := decodeLog(l)
				if err != nil {
					log.Warn("failed to decode ledger event",
						zap.Stringer("tx", l.TxHash),
						zap.Uint64("block", l.BlockNumber),
						zap.Error(err))
					continue
				}
				select {
				case sink <- ev:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (c *Client) call(ctx context.Context, contract *bind.BoundContract, from common.Address, method string, args ...any) ([]any, error) {
	var out []any
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

// transact sends a transaction from an unlocked account and waits for it
// to be mined
func (c *Client) transact(ctx context.Context, from, to common.Address, amount *big.Int, input []byte) error {
	args := map[string]any{
		"from": from,
		"to":   to,
		"data": hexutil.Bytes(input),
	}
	if amount != nil && amount.Sign() > 0 {
		args["value"] = (*hexutil.Big)(amount)
	}
	if c.Gas > 0 {
		args["gas"] = hexutil.Uint64(c.Gas)
	}

	var hash common.Hash
	if err := c.rc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return fmt.Errorf("send transaction from %s: %w", from.Hex(), err)
	}

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	c.Log.Debug("transaction mined",
		zap.Stringer("tx", hash),
		zap.Stringer("from", from),
		zap.Uint64("gas_used", receipt.GasUsed))
	return nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.ec.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt of %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
