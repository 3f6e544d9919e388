// Package ledger talks to the Neo N3 contracts that hold study rewards: a
// NEP-17 reward token and a badge contract that tracks registrations and
// mints milestone badges.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/nep17"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/unwrap"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
	"github.com/rs/zerolog"

	"studyrewards-backend/internal/logger"
	"studyrewards-backend/internal/models"
)

// ErrTransactionFaulted is returned when a confirmed transaction did not HALT.
var ErrTransactionFaulted = errors.New("transaction faulted")

const dialTimeout = 10 * time.Second

type Config struct {
	RPCURL            string
	BotWIF            string
	RewardTokenHash   string
	BadgeContractHash string
	TxTimeout         time.Duration
}

type contractActor interface {
	Call(contract util.Uint160, operation string, params ...any) (*result.Invoke, error)
	SendCall(contract util.Uint160, method string, params ...any) (util.Uint256, uint32, error)
	Wait(h util.Uint256, vub uint32, err error) (*state.AppExecResult, error)
	Sender() util.Uint160
}

var _ contractActor = (*actor.Actor)(nil)

type rewardToken interface {
	BalanceOf(account util.Uint160) (*big.Int, error)
	Transfer(from util.Uint160, to util.Uint160, amount *big.Int, data any) (util.Uint256, uint32, error)
}

// NeoLedger signs every write with the bot account and blocks until the
// transaction is in a block or TxTimeout passes.
type NeoLedger struct {
	client    *rpcclient.Client
	actor     contractActor
	token     rewardToken
	badges    util.Uint160
	txTimeout time.Duration
	logger    zerolog.Logger
}

func NewNeoLedger(ctx context.Context, cfg Config) (*NeoLedger, error) {
	tokenHash, err := parseContractHash(cfg.RewardTokenHash)
	if err != nil {
		return nil, fmt.Errorf("reward token hash: %w", err)
	}
	badgeHash, err := parseContractHash(cfg.BadgeContractHash)
	if err != nil {
		return nil, fmt.Errorf("badge contract hash: %w", err)
	}

	acc, err := wallet.NewAccountFromWIF(cfg.BotWIF)
	if err != nil {
		return nil, fmt.Errorf("failed to load bot account: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := rpcclient.New(dialCtx, cfg.RPCURL, rpcclient.Options{DialTimeout: dialTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc client: %w", err)
	}
	if err := client.Init(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize rpc client: %w", err)
	}

	act, err := actor.NewSimple(client, acc)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create actor: %w", err)
	}

	l := newNeoLedger(act, nep17.New(act, tokenHash), badgeHash, cfg.TxTimeout)
	l.client = client
	l.logger.Info().
		Str("rpc_url", cfg.RPCURL).
		Str("bot_address", acc.Address).
		Msg("connected to Neo N3")
	return l, nil
}

func newNeoLedger(act contractActor, token rewardToken, badges util.Uint160, txTimeout time.Duration) *NeoLedger {
	return &NeoLedger{
		actor:     act,
		token:     token,
		badges:    badges,
		txTimeout: txTimeout,
		logger:    logger.WithComponent("ledger"),
	}
}

func (l *NeoLedger) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

// OperatingBalance is the bot account's reward token balance.
func (l *NeoLedger) OperatingBalance(ctx context.Context) (int64, error) {
	balance, err := l.token.BalanceOf(l.actor.Sender())
	if err != nil {
		return 0, fmt.Errorf("balanceOf: %w", err)
	}
	if !balance.IsInt64() {
		return math.MaxInt64, nil
	}
	return balance.Int64(), nil
}

func (l *NeoLedger) IsRegistered(ctx context.Context, addr string) (bool, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	ok, err := unwrap.Bool(l.actor.Call(l.badges, "isRegistered", account))
	if err != nil {
		return false, fmt.Errorf("isRegistered: %w", err)
	}
	return ok, nil
}

func (l *NeoLedger) Register(ctx context.Context, addr string) (string, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return "", err
	}
	return l.send(ctx, "register", account)
}

func (l *NeoLedger) TransferReward(ctx context.Context, addr string, amount int64) (string, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return "", err
	}
	h, vub, err := l.token.Transfer(l.actor.Sender(), account, big.NewInt(amount), nil)
	return l.await(ctx, "transfer", h, vub, err)
}

func (l *NeoLedger) HasBadge(ctx context.Context, addr string, tier models.Tier) (bool, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	ok, err := unwrap.Bool(l.actor.Call(l.badges, "hasBadge", account, string(tier)))
	if err != nil {
		return false, fmt.Errorf("hasBadge: %w", err)
	}
	return ok, nil
}

func (l *NeoLedger) RecordAttempt(ctx context.Context, addr string, score int64) (string, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return "", err
	}
	return l.send(ctx, "recordAttempt", account, score)
}

func (l *NeoLedger) MintBadge(ctx context.Context, addr string, tier models.Tier) (string, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return "", err
	}
	return l.send(ctx, "mintBadge", account, string(tier))
}

func (l *NeoLedger) send(ctx context.Context, method string, params ...any) (string, error) {
	h, vub, err := l.actor.SendCall(l.badges, method, params...)
	return l.await(ctx, method, h, vub, err)
}

type waitResult struct {
	res *state.AppExecResult
	err error
}

// await waits for the transaction and checks that it HALTed. The hash is
// returned even on failure once the transaction was sent. The actor waits
// until the transaction's valid-until block; await gives up after TxTimeout
// or when ctx ends and leaves that wait to finish in the background.
func (l *NeoLedger) await(ctx context.Context, method string, h util.Uint256, vub uint32, sendErr error) (string, error) {
	if sendErr != nil {
		return "", fmt.Errorf("%s: send: %w", method, sendErr)
	}
	txHash := "0x" + h.StringLE()

	waitCtx, cancel := context.WithTimeout(ctx, l.txTimeout)
	defer cancel()

	done := make(chan waitResult, 1)
	go func() {
		res, err := l.actor.Wait(h, vub, nil)
		done <- waitResult{res: res, err: err}
	}()

	var res *state.AppExecResult
	select {
	case <-waitCtx.Done():
		return txHash, fmt.Errorf("%s: wait for %s: %w", method, txHash, waitCtx.Err())
	case r := <-done:
		if r.err != nil {
			return txHash, fmt.Errorf("%s: wait for %s: %w", method, txHash, r.err)
		}
		res = r.res
	}
	if res.VMState != vmstate.Halt {
		return txHash, fmt.Errorf("%s: %w: %s %s", method, ErrTransactionFaulted, res.VMState, res.FaultException)
	}

	l.logger.Debug().Str("method", method).Str(logger.FieldTxHash, txHash).Msg("transaction confirmed")
	return txHash, nil
}

func parseAddress(addr string) (util.Uint160, error) {
	u, err := address.StringToUint160(strings.TrimSpace(addr))
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return u, nil
}

// parseContractHash accepts a little-endian script hash with or without 0x.
func parseContractHash(s string) (util.Uint160, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	u, err := util.Uint160DecodeStringLE(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid script hash %q: %w", s, err)
	}
	return u, nil
}
