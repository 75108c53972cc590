package domain

import (
	"fmt"
	"math/big"
	"time"
)

// EventRef identifies one emitted log uniquely. (ChainID, TxHash, LogIndex) is
// the idempotency key recorded by the materializer so a redelivered log is
// never applied twice.
type EventRef struct {
	ChainID     uint64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint32
}

// String renders the reference in "chain:tx:log" form for logging.
func (r EventRef) String() string {
	return fmt.Sprintf("%d:%s:%d", r.ChainID, r.TxHash, r.LogIndex)
}

// EventMeta carries the chain context shared by all event kinds.
type EventMeta struct {
	Ref       EventRef
	BlockTime time.Time
}

// Event is the closed union of the four Vamos contract events. The only
// implementations live in this package; consumers dispatch with a type switch.
type Event interface {
	Meta() EventMeta
	// Market returns the on-chain market id the event refers to.
	Market() *big.Int

	sealed()
}

// MarketCreated announces a new market with its outcome descriptions.
type MarketCreated struct {
	EventMeta
	MarketID *big.Int
	Creator  string
	Judge    string
	Question string
	Outcomes []string
}

// PredictionPlaced records one stake of Amount on OutcomeID by User.
type PredictionPlaced struct {
	EventMeta
	MarketID  *big.Int
	User      string
	OutcomeID int
	Amount    *big.Int
}

// MarketResolved announces the judge's declaration of the winning outcome.
// Fee data is not in the payload; the materializer fetches it via getMarket.
type MarketResolved struct {
	EventMeta
	MarketID       *big.Int
	WinningOutcome int
}

// MarketPaused announces that the judge paused the market.
type MarketPaused struct {
	EventMeta
	MarketID *big.Int
}

func (m EventMeta) Meta() EventMeta { return m }

func (e *MarketCreated) Market() *big.Int    { return e.MarketID }
func (e *PredictionPlaced) Market() *big.Int { return e.MarketID }
func (e *MarketResolved) Market() *big.Int   { return e.MarketID }
func (e *MarketPaused) Market() *big.Int     { return e.MarketID }

func (*MarketCreated) sealed()    {}
func (*PredictionPlaced) sealed() {}
func (*MarketResolved) sealed()   {}
func (*MarketPaused) sealed()     {}
