// Package chain talks to the Vamos contract: it decodes emitted logs into
// typed domain events, scans blocks with a persisted cursor, and performs the
// authoritative getMarket read used at resolution time.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// vamosABIJSON is the subset of the Vamos contract interface the indexer and
// the distribution worker need: the four lifecycle events, the getMarket
// accessor, and distribute.
const vamosABIJSON = `[
  {
    "type": "event",
    "name": "MarketCreated",
    "inputs": [
      {"name": "marketId", "type": "uint256", "indexed": true},
      {"name": "creator", "type": "address", "indexed": true},
      {"name": "judge", "type": "address", "indexed": false},
      {"name": "question", "type": "string", "indexed": false},
      {"name": "outcomes", "type": "string[]", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "PredictionPlaced",
    "inputs": [
      {"name": "marketId", "type": "uint256", "indexed": true},
      {"name": "user", "type": "address", "indexed": true},
      {"name": "outcomeId", "type": "uint256", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "MarketResolved",
    "inputs": [
      {"name": "marketId", "type": "uint256", "indexed": true},
      {"name": "winningOutcome", "type": "uint256", "indexed": true}
    ]
  },
  {
    "type": "event",
    "name": "MarketPaused",
    "inputs": [
      {"name": "marketId", "type": "uint256", "indexed": true}
    ]
  },
  {
    "type": "function",
    "name": "getMarket",
    "stateMutability": "view",
    "inputs": [{"name": "marketId", "type": "uint256"}],
    "outputs": [
      {"name": "creator", "type": "address"},
      {"name": "judge", "type": "address"},
      {"name": "question", "type": "string"},
      {"name": "totalPool", "type": "uint256"},
      {"name": "poolAfterFees", "type": "uint256"},
      {"name": "protocolFeeAmount", "type": "uint256"},
      {"name": "creatorFeeAmount", "type": "uint256"},
      {"name": "winningOutcome", "type": "uint256"},
      {"name": "noWinners", "type": "bool"},
      {"name": "resolved", "type": "bool"},
      {"name": "paused", "type": "bool"}
    ]
  },
  {
    "type": "function",
    "name": "distribute",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "marketId", "type": "uint256"}],
    "outputs": [{"name": "processed", "type": "uint256"}]
  }
]`

// vamosABI is parsed once at startup; the JSON above is a compile-time
// constant so failure here is a programming error.
var vamosABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(vamosABIJSON))
	if err != nil {
		panic("chain: parse vamos abi: " + err.Error())
	}
	return parsed
}()

// Event topic0 hashes, used for log dispatch and filter queries.
var (
	topicMarketCreated    = vamosABI.Events["MarketCreated"].ID
	topicPredictionPlaced = vamosABI.Events["PredictionPlaced"].ID
	topicMarketResolved   = vamosABI.Events["MarketResolved"].ID
	topicMarketPaused     = vamosABI.Events["MarketPaused"].ID
)

// EventTopics returns the topic0 hashes of all four Vamos lifecycle events,
// suitable for a FilterQuery topics clause.
func EventTopics() []common.Hash {
	return []common.Hash{
		topicMarketCreated,
		topicPredictionPlaced,
		topicMarketResolved,
		topicMarketPaused,
	}
}

// MarketResolvedTopic returns the topic0 hash of MarketResolved, used by the
// distribution worker's narrower filter.
func MarketResolvedTopic() common.Hash {
	return topicMarketResolved
}

// ABI exposes the parsed contract interface for packing call data.
func ABI() abi.ABI {
	return vamosABI
}
