package model

import "time"

const EnvelopeVersion = "v1"

// DataSource labels whether a read-path result came from the authoritative
// upstream or a degraded fallback computation. Callers must be able to tell
// the two apart, so the label travels with the data.
const (
	DataSourceLive     = "LIVE"
	DataSourceFallback = "FALLBACK_DATA"
)

// OutcomeStatus is the terminal status of a write operation.
type OutcomeStatus string

const (
	StatusNeedsSignature OutcomeStatus = "NEEDS_SIGNATURE"
	StatusSuccess        OutcomeStatus = "SUCCESS"
)

// TransactionOutcome is the uniform contract every write operation returns.
// NEEDS_SIGNATURE carries the unsigned envelope for wallet signing and is a
// success path, not an error; SUCCESS carries the confirmed hash and any
// decoded return value. Failures are returned as errors, never as a third
// outcome shape.
type TransactionOutcome struct {
	Status      OutcomeStatus `json:"status"`
	UnsignedXDR string        `json:"unsigned_xdr,omitempty"`
	TxHash      string        `json:"tx_hash,omitempty"`
	Result      any           `json:"result,omitempty"`
	PendingID   string        `json:"pending_id,omitempty"`
}

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Network   string           `json:"network,omitempty"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// Position is one asset position inside a single protocol.
type Position struct {
	Protocol      string  `json:"protocol"`
	Asset         string  `json:"asset"`
	ContractID    string  `json:"contract_id,omitempty"`
	Kind          string  `json:"kind"` // supply | borrow | liquidity | vault
	Amount        string  `json:"amount"`
	AmountStroops int64   `json:"amount_stroops"`
	APY           float64 `json:"apy,omitempty"`
	FetchedAt     string  `json:"fetched_at"`
}

// ProtocolPositions is one protocol's contribution to the unified view.
type ProtocolPositions struct {
	Protocol   string     `json:"protocol"`
	Positions  []Position `json:"positions"`
	DataSource string     `json:"data_source"`
	Err        string     `json:"error,omitempty"`
}

// Allocation is a per-asset share of the whole portfolio.
type Allocation struct {
	Asset    string  `json:"asset"`
	Stroops  int64   `json:"stroops"`
	SharePct float64 `json:"share_pct"`
}

// PortfolioOverview merges the three protocols' positions into percentage
// allocations plus a Herfindahl-Hirschman diversification index.
type PortfolioOverview struct {
	Protocols     []ProtocolPositions `json:"protocols"`
	Allocations   []Allocation        `json:"allocations"`
	TotalStroops  int64               `json:"total_stroops"`
	HHI           float64             `json:"hhi"`
	FailedSources []string            `json:"failed_sources,omitempty"`
	FetchedAt     string              `json:"fetched_at"`
}

// PoolMeta is Blend pool metadata from the read path.
type PoolMeta struct {
	PoolID     string      `json:"pool_id"`
	Name       string      `json:"name"`
	Reserves   []PoolAsset `json:"reserves"`
	BackstopID string      `json:"backstop_id,omitempty"`
	DataSource string      `json:"data_source"`
	FetchedAt  string      `json:"fetched_at"`
}

type PoolAsset struct {
	Asset      string  `json:"asset"`
	ContractID string  `json:"contract_id"`
	SupplyAPY  float64 `json:"supply_apy"`
	BorrowAPY  float64 `json:"borrow_apy"`
}

// SwapQuote is a Soroswap quote, live or fallback-estimated.
type SwapQuote struct {
	FromAsset      string  `json:"from_asset"`
	ToAsset        string  `json:"to_asset"`
	AmountIn       string  `json:"amount_in"`
	AmountOut      string  `json:"amount_out"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	Route          string  `json:"route,omitempty"`
	DataSource     string  `json:"data_source"`
	FetchedAt      string  `json:"fetched_at"`
}

// VaultInfo describes a DeFindex vault or, on the fallback path, one of the
// static strategies a vault could be created from.
type VaultInfo struct {
	VaultID    string  `json:"vault_id,omitempty"`
	Name       string  `json:"name"`
	Asset      string  `json:"asset"`
	Strategy   string  `json:"strategy"`
	APY        float64 `json:"apy,omitempty"`
	TVL        string  `json:"tvl,omitempty"`
	DataSource string  `json:"data_source"`
	FetchedAt  string  `json:"fetched_at"`
}

// VaultList is the OK-status wrapper the vault read path returns even when
// the partner API is down and entries come from the strategies fallback.
type VaultList struct {
	Status     string      `json:"status"`
	Vaults     []VaultInfo `json:"vaults"`
	DataSource string      `json:"data_source"`
}

// PendingEnvelope is a deferred-signing record: an unsigned transaction
// waiting for an external wallet signature.
type PendingEnvelope struct {
	ID          string `json:"id"`
	Protocol    string `json:"protocol"`
	Action      string `json:"action"`
	Account     string `json:"account"`
	UnsignedXDR string `json:"unsigned_xdr"`
	Network     string `json:"network"`
	CreatedAt   string `json:"created_at"`
}
