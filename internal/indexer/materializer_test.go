package indexer

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vamos-labs/vamos-indexer/internal/chain"
	"github.com/vamos-labs/vamos-indexer/internal/domain"
)

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

type memState struct {
	markets  map[string]domain.Market
	outcomes map[string]domain.Outcome
	bets     map[string]domain.Bet
	applied  map[string]bool
	cursors  map[uint64]domain.Checkpoint
}

func (s *memState) clone() *memState {
	c := &memState{
		markets:  make(map[string]domain.Market, len(s.markets)),
		outcomes: make(map[string]domain.Outcome, len(s.outcomes)),
		bets:     make(map[string]domain.Bet, len(s.bets)),
		applied:  make(map[string]bool, len(s.applied)),
		cursors:  make(map[uint64]domain.Checkpoint, len(s.cursors)),
	}
	for k, v := range s.markets {
		c.markets[k] = v
	}
	for k, v := range s.outcomes {
		c.outcomes[k] = v
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.applied {
		c.applied[k] = v
	}
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	return c
}

// memStores implements domain.Stores over maps, mirroring the push-down
// increment semantics of the Postgres stores. InTx snapshots the state and
// restores it when fn fails, matching transaction rollback.
type memStores struct {
	mu    sync.Mutex
	state *memState
}

func newMemStores() *memStores {
	return &memStores{state: &memState{
		markets:  make(map[string]domain.Market),
		outcomes: make(map[string]domain.Outcome),
		bets:     make(map[string]domain.Bet),
		applied:  make(map[string]bool),
		cursors:  make(map[uint64]domain.Checkpoint),
	}}
}

func (m *memStores) Markets() domain.MarketStore             { return (*memMarkets)(m) }
func (m *memStores) Outcomes() domain.OutcomeStore           { return (*memOutcomes)(m) }
func (m *memStores) Bets() domain.BetStore                   { return (*memBets)(m) }
func (m *memStores) AppliedEvents() domain.AppliedEventStore { return (*memApplied)(m) }
func (m *memStores) Checkpoints() domain.CheckpointStore     { return (*memCheckpoints)(m) }

func (m *memStores) InTx(ctx context.Context, fn func(domain.Stores) error) error {
	m.mu.Lock()
	snapshot := m.state.clone()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type memMarkets memStores

func (m *memMarkets) Insert(ctx context.Context, mk domain.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.markets[mk.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.state.markets[mk.ID] = mk
	return nil
}

func (m *memMarkets) GetByID(ctx context.Context, id string) (domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.state.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return mk, nil
}

func (m *memMarkets) AddToPool(ctx context.Context, id string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.state.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	mk.TotalPool = new(big.Int).Add(mk.TotalPool, amount)
	m.state.markets[id] = mk
	return nil
}

func (m *memMarkets) MarkPaused(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.state.markets[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if mk.Status != domain.MarketStatusOpen {
		return false, nil
	}
	mk.Status = domain.MarketStatusPaused
	m.state.markets[id] = mk
	return true, nil
}

func (m *memMarkets) SetResolved(ctx context.Context, id string, res domain.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.state.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	mk.Status = domain.MarketStatusResolved
	winning := res.WinningOutcome
	mk.WinningOutcome = &winning
	mk.PoolAfterFees = res.PoolAfterFees
	mk.ProtocolFeeAmount = res.ProtocolFeeAmount
	mk.CreatorFeeAmount = res.CreatorFeeAmount
	mk.NoWinners = res.NoWinners
	m.state.markets[id] = mk
	return nil
}

func (m *memMarkets) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Market
	for _, mk := range m.state.markets {
		if f.ChainID != 0 && mk.ChainID != f.ChainID {
			continue
		}
		if f.Status != "" && mk.Status != f.Status {
			continue
		}
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memMarkets) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.state.markets)), nil
}

type memOutcomes memStores

func (m *memOutcomes) InsertBatch(ctx context.Context, outcomes []domain.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outcomes {
		m.state.outcomes[o.ID] = o
	}
	return nil
}

func (m *memOutcomes) GetByID(ctx context.Context, id string) (domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.outcomes[id]
	if !ok {
		return domain.Outcome{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOutcomes) AddAmount(ctx context.Context, id string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.outcomes[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.TotalAmount = new(big.Int).Add(o.TotalAmount, amount)
	m.state.outcomes[id] = o
	return nil
}

func (m *memOutcomes) ListByMarket(ctx context.Context, marketID string) ([]domain.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Outcome
	for _, o := range m.state.outcomes {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

type memBets memStores

func (m *memBets) UpsertAdd(ctx context.Context, b domain.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.state.bets[b.ID]; ok {
		existing.Amount = new(big.Int).Add(existing.Amount, b.Amount)
		existing.LastUpdated = b.LastUpdated
		m.state.bets[b.ID] = existing
		return nil
	}
	m.state.bets[b.ID] = b
	return nil
}

func (m *memBets) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *memBets) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bet
	for _, b := range m.state.bets {
		if b.MarketID == marketID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBets) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bet
	for _, b := range m.state.bets {
		if b.User == user {
			out = append(out, b)
		}
	}
	return out, nil
}

type memApplied memStores

func (m *memApplied) Record(ctx context.Context, ref domain.EventRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ref.String()
	if m.state.applied[key] {
		return false, nil
	}
	m.state.applied[key] = true
	return true, nil
}

type memCheckpoints memStores

func (m *memCheckpoints) Get(ctx context.Context, chainID uint64) (domain.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.state.cursors[chainID]
	return cp, ok, nil
}

func (m *memCheckpoints) Upsert(ctx context.Context, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cursors[cp.ChainID] = cp
	return nil
}

var _ domain.Stores = (*memStores)(nil)

// fakeContract returns canned getMarket data and counts calls.
type fakeContract struct {
	mu     sync.Mutex
	out    chain.OnchainMarket
	err    error
	errFor int // fail this many calls before succeeding
	calls  int
}

func (f *fakeContract) GetMarket(ctx context.Context, marketID *big.Int) (chain.OnchainMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.errFor == 0 || f.calls <= f.errFor) {
		return chain.OnchainMarket{}, f.err
	}
	return f.out, nil
}

type fakeLocks struct {
	acquired []string
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages []domain.BusMessage
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, domain.BusMessage{Channel: channel, Payload: payload})
	return nil
}

func (f *fakeBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	close(ch)
	return ch, nil
}

func (f *fakeBus) byChannel(channel string) []domain.BusMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.BusMessage
	for _, msg := range f.messages {
		if msg.Channel == channel {
			out = append(out, msg)
		}
	}
	return out
}

type alertRecorder struct {
	mu     sync.Mutex
	events []string
}

func (a *alertRecorder) Notify(ctx context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	stores   *memStores
	contract *fakeContract
	locks    *fakeLocks
	bus      *fakeBus
	alerts   *alertRecorder
	mat      *Materializer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stores:   newMemStores(),
		contract: &fakeContract{},
		locks:    &fakeLocks{},
		bus:      &fakeBus{},
		alerts:   &alertRecorder{},
	}
	f.mat = NewMaterializer(
		f.stores,
		domain.Keyer{MultiChain: true},
		f.contract,
		f.locks,
		nil,
		f.bus,
		f.alerts,
		testLogger(),
	)
	f.mat.resolveRetryWait = time.Millisecond
	return f
}

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ref(chainID, block uint64, tx string, logIndex uint32) domain.EventMeta {
	return domain.EventMeta{
		Ref: domain.EventRef{
			ChainID:     chainID,
			BlockNumber: block,
			TxHash:      tx,
			LogIndex:    logIndex,
		},
		BlockTime: baseTime.Add(time.Duration(block) * 2 * time.Second),
	}
}

func created(chainID uint64, marketID int64, tx string, outcomes ...string) *domain.MarketCreated {
	return &domain.MarketCreated{
		EventMeta: ref(chainID, 10, tx, 0),
		MarketID:  big.NewInt(marketID),
		Creator:   "0x1111111111111111111111111111111111111111",
		Judge:     "0x2222222222222222222222222222222222222222",
		Question:  "Will it happen?",
		Outcomes:  outcomes,
	}
}

func prediction(chainID uint64, marketID int64, user string, outcome int, amount int64, block uint64, tx string) *domain.PredictionPlaced {
	return &domain.PredictionPlaced{
		EventMeta: ref(chainID, block, tx, 1),
		MarketID:  big.NewInt(marketID),
		User:      user,
		OutcomeID: outcome,
		Amount:    big.NewInt(amount),
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestMarketCreatedMaterializesMarketAndOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusOpen, market.Status)
	assert.Equal(t, "7", market.MarketID)
	assert.Equal(t, 2, market.NumOutcomes)
	assert.Zero(t, market.TotalPool.Sign())
	assert.Nil(t, market.WinningOutcome)

	outcomes, err := f.stores.Outcomes().ListByMarket(ctx, "8453-7")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "8453-7-0", outcomes[0].ID)
	assert.Equal(t, "Yes", outcomes[0].Description)
	assert.Equal(t, "8453-7-1", outcomes[1].ID)
	assert.Equal(t, "No", outcomes[1].Description)
	assert.Zero(t, outcomes[0].TotalAmount.Sign())

	require.Len(t, f.bus.byChannel(ChannelMarkets), 1)
}

func TestDuplicateMarketCreationIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	// Different log, same market key.
	err := f.mat.Apply(ctx, created(8453, 7, "0xbb", "Oui", "Non"))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.True(t, IsMarketFault(err))
	assert.Contains(t, f.alerts.events, "market_fault")

	// Original row untouched.
	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, "Will it happen?", market.Question)
}

func TestPredictionAggregatesAcrossEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 0, 100, 11, "0xb1")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 0, 50, 12, "0xb2")))

	bet, err := f.stores.Bets().GetByID(ctx, "8453-7-0xaaa-0")
	require.NoError(t, err)
	assert.Equal(t, "150", bet.Amount.String())
	assert.Equal(t, baseTime.Add(24*time.Second), bet.LastUpdated)

	outcome, err := f.stores.Outcomes().GetByID(ctx, "8453-7-0")
	require.NoError(t, err)
	assert.Equal(t, "150", outcome.TotalAmount.String())

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, "150", market.TotalPool.String())

	require.Len(t, f.bus.byChannel(ChannelBets), 2)
}

func TestRedeliveredPredictionDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	ev := prediction(8453, 7, "0xAAA", 0, 100, 11, "0xb1")
	require.NoError(t, f.mat.Apply(ctx, ev))
	require.NoError(t, f.mat.Apply(ctx, ev)) // same (chain, tx, log index)

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, "100", market.TotalPool.String())

	bet, err := f.stores.Bets().GetByID(ctx, "8453-7-0xaaa-0")
	require.NoError(t, err)
	assert.Equal(t, "100", bet.Amount.String())
}

func TestPoolMatchesSumOfOutcomeAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No", "Maybe")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 0, 100, 11, "0xb1")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xBBB", 1, 75, 12, "0xb2")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xCCC", 2, 25, 13, "0xb3")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 1, 40, 14, "0xb4")))

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)

	outcomes, err := f.stores.Outcomes().ListByMarket(ctx, "8453-7")
	require.NoError(t, err)
	sum := big.NewInt(0)
	for _, o := range outcomes {
		sum.Add(sum, o.TotalAmount)
	}
	assert.Zero(t, sum.Cmp(market.TotalPool), "sum of outcome amounts must equal the pool")
	assert.Equal(t, "240", market.TotalPool.String())
}

func TestPredictionOnUnknownMarketIsCausalFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.mat.Apply(ctx, prediction(8453, 99, "0xAAA", 0, 100, 11, "0xb1"))
	require.ErrorIs(t, err, domain.ErrUnknownMarket)
	assert.True(t, IsMarketFault(err))
	assert.Contains(t, f.alerts.events, "market_fault")

	// No phantom market.
	_, err = f.stores.Markets().GetByID(ctx, "8453-99")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Rolled back: no bet row either.
	_, err = f.stores.Bets().GetByID(ctx, "8453-99-0xaaa-0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPredictionOnUnknownOutcomeIsCausalFault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	err := f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 5, 100, 11, "0xb1"))
	require.ErrorIs(t, err, domain.ErrUnknownOutcome)

	// The pool increment rolled back with the rest of the transaction.
	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Zero(t, market.TotalPool.Sign())
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	pause := &domain.MarketPaused{EventMeta: ref(8453, 20, "0xp1", 0), MarketID: big.NewInt(7)}
	require.NoError(t, f.mat.Apply(ctx, pause))

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusPaused, market.Status)

	// Identical redelivery and a second pause log both leave state alone.
	require.NoError(t, f.mat.Apply(ctx, pause))
	pause2 := &domain.MarketPaused{EventMeta: ref(8453, 21, "0xp2", 0), MarketID: big.NewInt(7)}
	require.NoError(t, f.mat.Apply(ctx, pause2))

	market, err = f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusPaused, market.Status)
}

func TestResolveSetsFieldsFromContractRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contract.out = chain.OnchainMarket{
		PoolAfterFees:     big.NewInt(140),
		ProtocolFeeAmount: big.NewInt(5),
		CreatorFeeAmount:  big.NewInt(5),
		WinningOutcome:    big.NewInt(0),
		NoWinners:         false,
		Resolved:          true,
	}

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))
	require.NoError(t, f.mat.Apply(ctx, prediction(8453, 7, "0xAAA", 0, 150, 11, "0xb1")))

	resolve := &domain.MarketResolved{
		EventMeta:      ref(8453, 30, "0xr1", 0),
		MarketID:       big.NewInt(7),
		WinningOutcome: 0,
	}
	require.NoError(t, f.mat.Apply(ctx, resolve))

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, market.Status)
	require.NotNil(t, market.WinningOutcome)
	assert.Equal(t, 0, *market.WinningOutcome)
	assert.Equal(t, "140", market.PoolAfterFees.String())
	assert.Equal(t, "5", market.ProtocolFeeAmount.String())
	assert.Equal(t, "5", market.CreatorFeeAmount.String())
	assert.False(t, market.NoWinners)

	// The resolution section ran under the per-market lock.
	require.Len(t, f.locks.acquired, 1)
	assert.Equal(t, "resolve:8453-7", f.locks.acquired[0])

	require.Len(t, f.bus.byChannel(ChannelResolutions), 1)
}

func TestResolveRedeliveryAndConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contract.out = chain.OnchainMarket{
		PoolAfterFees:     big.NewInt(140),
		ProtocolFeeAmount: big.NewInt(5),
		CreatorFeeAmount:  big.NewInt(5),
		WinningOutcome:    big.NewInt(0),
		Resolved:          true,
	}

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	resolve := &domain.MarketResolved{
		EventMeta:      ref(8453, 30, "0xr1", 0),
		MarketID:       big.NewInt(7),
		WinningOutcome: 0,
	}
	require.NoError(t, f.mat.Apply(ctx, resolve))

	// Exact redelivery: absorbed by the ledger.
	require.NoError(t, f.mat.Apply(ctx, resolve))

	// A different log with identical values: absorbed by value comparison.
	again := &domain.MarketResolved{
		EventMeta:      ref(8453, 31, "0xr2", 0),
		MarketID:       big.NewInt(7),
		WinningOutcome: 0,
	}
	require.NoError(t, f.mat.Apply(ctx, again))

	// A different winning outcome: value conflict, never overwritten.
	conflicting := &domain.MarketResolved{
		EventMeta:      ref(8453, 32, "0xr3", 0),
		MarketID:       big.NewInt(7),
		WinningOutcome: 1,
	}
	err := f.mat.Apply(ctx, conflicting)
	require.ErrorIs(t, err, domain.ErrResolutionConflict)
	assert.Contains(t, f.alerts.events, "resolution_conflict")

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	require.NotNil(t, market.WinningOutcome)
	assert.Equal(t, 0, *market.WinningOutcome)
}

func TestResolveRetriesContractReadUntilSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contract.err = domain.ErrCircuitOpen
	f.contract.errFor = 3
	f.contract.out = chain.OnchainMarket{
		PoolAfterFees:     big.NewInt(90),
		ProtocolFeeAmount: big.NewInt(5),
		CreatorFeeAmount:  big.NewInt(5),
		WinningOutcome:    big.NewInt(1),
		Resolved:          true,
	}

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))

	resolve := &domain.MarketResolved{
		EventMeta:      ref(8453, 30, "0xr1", 0),
		MarketID:       big.NewInt(7),
		WinningOutcome: 1,
	}
	require.NoError(t, f.mat.Apply(ctx, resolve))

	assert.Equal(t, 4, f.contract.calls)

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, market.Status)
	assert.Equal(t, "90", market.PoolAfterFees.String())
}

func TestPauseAfterResolveIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.contract.out = chain.OnchainMarket{
		PoolAfterFees:  big.NewInt(0),
		WinningOutcome: big.NewInt(0),
		NoWinners:      true,
		Resolved:       true,
	}

	require.NoError(t, f.mat.Apply(ctx, created(8453, 7, "0xaa", "Yes", "No")))
	require.NoError(t, f.mat.Apply(ctx, &domain.MarketResolved{
		EventMeta: ref(8453, 30, "0xr1", 0), MarketID: big.NewInt(7),
	}))

	// Status never moves backward.
	require.NoError(t, f.mat.Apply(ctx, &domain.MarketPaused{
		EventMeta: ref(8453, 31, "0xp1", 0), MarketID: big.NewInt(7),
	}))

	market, err := f.stores.Markets().GetByID(ctx, "8453-7")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusResolved, market.Status)
	assert.True(t, market.NoWinners)
}

func TestTwoChainsSameMarketIDCoexist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The materializer is per chain in production; sharing the stores here
	// mirrors two instances writing to one database.
	matCelo := NewMaterializer(f.stores, domain.Keyer{MultiChain: true},
		f.contract, f.locks, nil, f.bus, f.alerts, testLogger())

	require.NoError(t, f.mat.Apply(ctx, created(8453, 0, "0xaa", "Yes", "No")))
	require.NoError(t, matCelo.Apply(ctx, created(42220, 0, "0xbb", "Yes", "No")))

	base, err := f.stores.Markets().GetByID(ctx, "8453-0")
	require.NoError(t, err)
	celo, err := f.stores.Markets().GetByID(ctx, "42220-0")
	require.NoError(t, err)

	assert.Equal(t, uint64(8453), base.ChainID)
	assert.Equal(t, uint64(42220), celo.ChainID)

	count, err := f.stores.Markets().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
