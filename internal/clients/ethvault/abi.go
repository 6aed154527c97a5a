// Package ethvault adapts the vault contract's event stream using go-ethereum
package ethvault

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/bobmcallan/vaultsync/internal/interfaces"
	"github.com/bobmcallan/vaultsync/internal/models"
)

// VaultABI lists the events consumed from the vault contract.
const VaultABI = `[
	{"anonymous":false,"type":"event","name":"Deposit","inputs":[
		{"indexed":true,"name":"caller","type":"address"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"assets","type":"uint256"},
		{"indexed":false,"name":"shares","type":"uint256"}]},
	{"anonymous":false,"type":"event","name":"Withdraw","inputs":[
		{"indexed":true,"name":"caller","type":"address"},
		{"indexed":true,"name":"receiver","type":"address"},
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"assets","type":"uint256"},
		{"indexed":false,"name":"shares","type":"uint256"}]},
	{"anonymous":false,"type":"event","name":"BrokerWithdrawalScheduled","inputs":[
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"timestamp","type":"uint256"}]}
]`

const (
	eventDeposit   = "Deposit"
	eventWithdraw  = "Withdraw"
	eventScheduled = "BrokerWithdrawalScheduled"
)

// Decoder turns raw vault logs into interfaces.VaultLog values.
type Decoder struct {
	abi    abi.ABI
	byID   map[common.Hash]string
	topics []common.Hash
}

// NewDecoder parses the vault ABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(VaultABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse vault ABI")
	}
	d := &Decoder{abi: parsed, byID: make(map[common.Hash]string)}
	for _, name := range []string{eventDeposit, eventWithdraw, eventScheduled} {
		id := parsed.Events[name].ID
		d.byID[id] = name
		d.topics = append(d.topics, id)
	}
	return d, nil
}

// Topics returns the event signatures to filter on.
func (d *Decoder) Topics() []common.Hash {
	return d.topics
}

// EventID returns the topic hash of a named event.
func (d *Decoder) EventID(name string) common.Hash {
	return d.abi.Events[name].ID
}

// Decode converts one log. Logs for unknown events return an error.
func (d *Decoder) Decode(l types.Log) (interfaces.VaultLog, error) {
	if len(l.Topics) == 0 {
		return interfaces.VaultLog{}, errors.New("log has no topics")
	}
	name, ok := d.byID[l.Topics[0]]
	if !ok {
		return interfaces.VaultLog{}, errors.Errorf("unknown event topic %s", l.Topics[0].Hex())
	}

	values, err := d.abi.Unpack(name, l.Data)
	if err != nil {
		return interfaces.VaultLog{}, errors.Wrapf(err, "unpack %s data", name)
	}

	out := interfaces.VaultLog{
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}

	switch name {
	case eventDeposit:
		if len(l.Topics) < 3 || len(values) < 2 {
			return interfaces.VaultLog{}, errors.New("malformed Deposit log")
		}
		out.Kind = models.EventCapitalDeposited
		out.Account = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		out.Assets = bigString(values[0])
		out.Shares = bigString(values[1])
	case eventWithdraw:
		if len(l.Topics) < 4 || len(values) < 2 {
			return interfaces.VaultLog{}, errors.New("malformed Withdraw log")
		}
		out.Kind = models.EventWithdrawalExecuted
		out.Account = common.BytesToAddress(l.Topics[3].Bytes()).Hex()
		out.Assets = bigString(values[0])
		out.Shares = bigString(values[1])
	case eventScheduled:
		if len(values) < 2 {
			return interfaces.VaultLog{}, errors.New("malformed BrokerWithdrawalScheduled log")
		}
		out.Kind = models.EventWithdrawalScheduled
		out.Assets = bigString(values[0])
		if ts, ok := values[1].(*big.Int); ok && ts.IsInt64() {
			out.ScheduledUnix = ts.Int64()
		}
	}
	return out, nil
}

func bigString(v interface{}) string {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b.String()
	}
	return "0"
}
