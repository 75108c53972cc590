package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// Decoder turns raw Vamos logs into typed domain events. It is a pure
// function of the log; malformed logs produce a domain.ErrDecode fault and
// are never retried.
type Decoder struct {
	chainID uint64
}

// NewDecoder creates a Decoder for logs emitted on the given chain.
func NewDecoder(chainID uint64) *Decoder {
	return &Decoder{chainID: chainID}
}

// Decode maps a log to one of the four event kinds. blockTime is the
// timestamp of the log's block, supplied by the scanner alongside the log.
func (d *Decoder) Decode(lg types.Log, blockTime time.Time) (domain.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("chain: log %s has no topics: %w", lg.TxHash, domain.ErrDecode)
	}

	meta := domain.EventMeta{
		Ref: domain.EventRef{
			ChainID:     d.chainID,
			BlockNumber: lg.BlockNumber,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    uint32(lg.Index),
		},
		BlockTime: blockTime,
	}

	switch lg.Topics[0] {
	case topicMarketCreated:
		return decodeMarketCreated(meta, lg)
	case topicPredictionPlaced:
		return decodePredictionPlaced(meta, lg)
	case topicMarketResolved:
		return decodeMarketResolved(meta, lg)
	case topicMarketPaused:
		return decodeMarketPaused(meta, lg)
	default:
		return nil, fmt.Errorf("chain: unrecognized topic %s: %w", lg.Topics[0], domain.ErrDecode)
	}
}

// unpackArgs splits an event's inputs into indexed and non-indexed halves and
// decodes both into one map.
func unpackArgs(name string, lg types.Log) (map[string]any, error) {
	ev := vamosABI.Events[name]

	var indexed abi.Arguments
	for _, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("chain: %s expects %d indexed topics, log has %d: %w",
			name, len(indexed), len(lg.Topics)-1, domain.ErrDecode)
	}

	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("chain: %s parse topics: %v: %w", name, err, domain.ErrDecode)
	}
	if err := ev.Inputs.NonIndexed().UnpackIntoMap(args, lg.Data); err != nil {
		return nil, fmt.Errorf("chain: %s unpack data: %v: %w", name, err, domain.ErrDecode)
	}
	return args, nil
}

func decodeMarketCreated(meta domain.EventMeta, lg types.Log) (domain.Event, error) {
	args, err := unpackArgs("MarketCreated", lg)
	if err != nil {
		return nil, err
	}

	marketID, err := argBig(args, "marketId")
	if err != nil {
		return nil, err
	}
	creator, err := argAddress(args, "creator")
	if err != nil {
		return nil, err
	}
	judge, err := argAddress(args, "judge")
	if err != nil {
		return nil, err
	}
	question, err := argString(args, "question")
	if err != nil {
		return nil, err
	}
	outcomes, err := argStrings(args, "outcomes")
	if err != nil {
		return nil, err
	}
	if len(outcomes) < 2 {
		return nil, fmt.Errorf("chain: MarketCreated with %d outcomes: %w", len(outcomes), domain.ErrDecode)
	}

	return &domain.MarketCreated{
		EventMeta: meta,
		MarketID:  marketID,
		Creator:   creator,
		Judge:     judge,
		Question:  question,
		Outcomes:  outcomes,
	}, nil
}

func decodePredictionPlaced(meta domain.EventMeta, lg types.Log) (domain.Event, error) {
	args, err := unpackArgs("PredictionPlaced", lg)
	if err != nil {
		return nil, err
	}

	marketID, err := argBig(args, "marketId")
	if err != nil {
		return nil, err
	}
	user, err := argAddress(args, "user")
	if err != nil {
		return nil, err
	}
	outcomeID, err := argBig(args, "outcomeId")
	if err != nil {
		return nil, err
	}
	amount, err := argBig(args, "amount")
	if err != nil {
		return nil, err
	}

	return &domain.PredictionPlaced{
		EventMeta: meta,
		MarketID:  marketID,
		User:      user,
		OutcomeID: int(outcomeID.Int64()),
		Amount:    amount,
	}, nil
}

func decodeMarketResolved(meta domain.EventMeta, lg types.Log) (domain.Event, error) {
	args, err := unpackArgs("MarketResolved", lg)
	if err != nil {
		return nil, err
	}

	marketID, err := argBig(args, "marketId")
	if err != nil {
		return nil, err
	}
	winning, err := argBig(args, "winningOutcome")
	if err != nil {
		return nil, err
	}

	return &domain.MarketResolved{
		EventMeta:      meta,
		MarketID:       marketID,
		WinningOutcome: int(winning.Int64()),
	}, nil
}

func decodeMarketPaused(meta domain.EventMeta, lg types.Log) (domain.Event, error) {
	args, err := unpackArgs("MarketPaused", lg)
	if err != nil {
		return nil, err
	}

	marketID, err := argBig(args, "marketId")
	if err != nil {
		return nil, err
	}

	return &domain.MarketPaused{EventMeta: meta, MarketID: marketID}, nil
}

// ---------------------------------------------------------------------------
// Typed argument extraction. Addresses are normalized to lowercase hex so the
// identity scheme's keys do not depend on checksum casing.
// ---------------------------------------------------------------------------

func argBig(args map[string]any, name string) (*big.Int, error) {
	v, ok := args[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: arg %q is not uint256 (%T): %w", name, args[name], domain.ErrDecode)
	}
	return v, nil
}

func argAddress(args map[string]any, name string) (string, error) {
	v, ok := args[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("chain: arg %q is not address (%T): %w", name, args[name], domain.ErrDecode)
	}
	return strings.ToLower(v.Hex()), nil
}

func argString(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("chain: arg %q is not string (%T): %w", name, args[name], domain.ErrDecode)
	}
	return v, nil
}

func argStrings(args map[string]any, name string) ([]string, error) {
	v, ok := args[name].([]string)
	if !ok {
		return nil, fmt.Errorf("chain: arg %q is not string[] (%T): %w", name, args[name], domain.ErrDecode)
	}
	return v, nil
}
