// Package model defines the core data structures for the treasury functions.
package model

import (
	"errors"
	"time"
)

// Collection names in the document store.
const (
	CollectionUsers               = "users"
	CollectionTreasuryAssets      = "treasuryAssets"
	CollectionHarvests            = "harvests"
	CollectionPendingTransactions = "pendingTransactions"
	CollectionYieldOpportunities  = "yieldOpportunities"
	CollectionMetadata            = "metadata"
)

// YieldMarkerID is the singleton metadata document touched on every yield opportunity write.
const YieldMarkerID = "yieldData"

// ErrMissingPrice is returned when an asset id has no entry in a price snapshot.
var ErrMissingPrice = errors.New("price missing for asset")

// TreasuryAsset is one holding of the treasury.
type TreasuryAsset struct {
	// ID is the price oracle key (e.g. "ethereum")
	ID string `json:"id"`

	Symbol string `json:"symbol"`
	Href   string `json:"href"`
	ImgSrc string `json:"imgSrc"`

	// Quantity held, in asset units
	Quantity float64 `json:"quantity"`
}

// Display strips the quantity from the asset.
func (a TreasuryAsset) Display() AssetDisplay {
	return AssetDisplay{
		Href:   a.Href,
		ImgSrc: a.ImgSrc,
		ID:     a.ID,
		Symbol: a.Symbol,
	}
}

// AssetDisplay is the public view of a treasury asset.
type AssetDisplay struct {
	Href   string `json:"href"`
	ImgSrc string `json:"imgSrc"`
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

// Harvest is a recorded yield event for one asset.
type Harvest struct {
	ID          string    `json:"id"`
	AssetSymbol string    `json:"assetSymbol"`
	Quantity    float64   `json:"quantity"`
	Date        time.Time `json:"date"`
}

// Price is the USD quote for a single asset.
type Price struct {
	USD float64 `json:"usd"`
}

// Prices maps an asset id to its quote.
type Prices map[string]Price

// USD returns the price for id or ErrMissingPrice.
func (p Prices) USD(id string) (float64, error) {
	price, ok := p[id]
	if !ok {
		return 0, &MissingPriceError{ID: id}
	}
	return price.USD, nil
}

// MissingPriceError names the asset that had no quote.
type MissingPriceError struct {
	ID string
}

func (e *MissingPriceError) Error() string {
	return ErrMissingPrice.Error() + ": " + e.ID
}

func (e *MissingPriceError) Unwrap() error {
	return ErrMissingPrice
}

// YieldData is the USD total of all harvests on one calendar day.
type YieldData struct {
	// Date is the UTC day, formatted 2006-01-02
	Date     string  `json:"date"`
	TotalUSD float64 `json:"totalUSD"`
}

// PortfolioSummary is the payload of the summary endpoint.
type PortfolioSummary struct {
	TreasuryAssets []AssetDisplay `json:"treasuryAssets"`
	RollingAPR     float64        `json:"rollingAPR"`
}

// YieldFrequency describes the gaps between yield days.
type YieldFrequency struct {
	AverageDays float64 `json:"averageDays"`
	MinDays     float64 `json:"minDays"`
	MaxDays     float64 `json:"maxDays"`
}

// ChartSeries is a labelled series for the frontend charts.
type ChartSeries struct {
	Labels []string  `json:"labels"`
	Data   []float64 `json:"data"`
}

// DetailedPortfolioData is the payload of the detailed endpoint.
type DetailedPortfolioData struct {
	YieldConsistencyScore     float64        `json:"yieldConsistencyScore"`
	YieldFrequency            YieldFrequency `json:"yieldFrequency"`
	LatestRelativePerformance float64        `json:"latestRelativePerformance"`
	YieldToTreasuryRatio      float64        `json:"yieldToTreasuryRatio"`
	YieldChartData            ChartSeries    `json:"yieldChartData"`
	CumulativeYieldChartData  ChartSeries    `json:"cumulativeYieldChartData"`
}

// TransactionStatus is the lifecycle state of a pending transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// DurationMonth buys one month; any other duration buys one year.
const DurationMonth = "month"

// PendingTransaction is an on-chain subscription payment awaiting confirmation.
type PendingTransaction struct {
	Hash        string            `json:"hash"`
	ChainID     string            `json:"chainId"`
	UserAddress string            `json:"userAddress"`
	Duration    string            `json:"duration"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	ProcessedAt *time.Time        `json:"processedAt,omitempty"`
}

// ExtendFrom returns the expiry reached by adding the purchased duration to base.
func (tx PendingTransaction) ExtendFrom(base time.Time) time.Time {
	if tx.Duration == DurationMonth {
		return base.AddDate(0, 1, 0)
	}
	return base.AddDate(1, 0, 0)
}

// User is the subscription state of one wallet, keyed by its address.
type User struct {
	IsPaidUser            bool       `json:"isPaidUser"`
	SubscriptionExpiry    *time.Time `json:"subscriptionExpiry,omitempty"`
	SubscriptionExpiredAt *time.Time `json:"subscriptionExpiredAt,omitempty"`

	// TelegramChatID is registered by the user after running /start with the bot
	TelegramChatID       string `json:"telegramChatId,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`

	Email     string     `json:"email,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// YieldOpportunity is a curated yield source announced to paid users.
type YieldOpportunity struct {
	Protocol  string     `json:"protocol"`
	Asset     string     `json:"asset"`
	Chain     string     `json:"chain"`
	APY       float64    `json:"apy"`
	URL       string     `json:"url,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}
