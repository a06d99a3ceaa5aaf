package models

import "time"

// InstrumentData is the structured record returned by the market data
// provider for one instrument. The whole record is serialized into the
// summary prompt, so fields keep provider-facing names.
type InstrumentData struct {
	Metadata   InstrumentMetadata `json:"metadata"`
	Company    CompanyDetails     `json:"company"`
	Prices     []PricePoint       `json:"prices"`
	Financials Financials         `json:"financials"`
	News       []Headline         `json:"news,omitempty"`
}

// InstrumentMetadata identifies the instrument and its headline figures.
type InstrumentMetadata struct {
	Symbol        string  `json:"symbol"`
	CompanyName   string  `json:"company_name"`
	Sector        string  `json:"sector,omitempty"`
	Industry      string  `json:"industry,omitempty"`
	MarketCap     int64   `json:"market_cap,omitempty"`
	PERatio       float64 `json:"pe_ratio,omitempty"`
	DividendYield float64 `json:"dividend_yield,omitempty"`
	Beta          float64 `json:"beta,omitempty"`
}

// CompanyDetails carries the company profile block.
type CompanyDetails struct {
	LongName          string  `json:"long_name"`
	Symbol            string  `json:"symbol"`
	Country           string  `json:"country,omitempty"`
	Website           string  `json:"website,omitempty"`
	Industry          string  `json:"industry,omitempty"`
	Sector            string  `json:"sector,omitempty"`
	BusinessSummary   string  `json:"business_summary,omitempty"`
	FullTimeEmployees int     `json:"full_time_employees,omitempty"`
	CurrentPrice      float64 `json:"current_price,omitempty"`
	MarketCap         int64   `json:"market_cap,omitempty"`
	TotalRevenue      int64   `json:"total_revenue,omitempty"`
	FreeCashflow      int64   `json:"free_cashflow,omitempty"`
	TotalCash         int64   `json:"total_cash,omitempty"`
	TotalDebt         int64   `json:"total_debt,omitempty"`
	ProfitMargins     float64 `json:"profit_margins,omitempty"`
	ReturnOnEquity    float64 `json:"return_on_equity,omitempty"`
	RevenueGrowth     float64 `json:"revenue_growth,omitempty"`
}

// PricePoint is one row of daily price history.
type PricePoint struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	AdjClose float64   `json:"adjusted_close"`
	Volume   int64     `json:"volume"`
}

// Financials carries the latest statement figures and ratios.
type Financials struct {
	Revenue            *float64 `json:"revenue,omitempty"`
	GrossProfit        *float64 `json:"gross_profit,omitempty"`
	OperatingIncome    *float64 `json:"operating_income,omitempty"`
	NetIncome          *float64 `json:"net_income,omitempty"`
	TotalAssets        *float64 `json:"total_assets,omitempty"`
	TotalLiabilities   *float64 `json:"total_liabilities,omitempty"`
	ShareholdersEquity *float64 `json:"shareholders_equity,omitempty"`
	CurrentRatio       float64  `json:"current_ratio,omitempty"`
	QuickRatio         float64  `json:"quick_ratio,omitempty"`
	ReturnOnEquity     float64  `json:"return_on_equity,omitempty"`
	ReturnOnAssets     float64  `json:"return_on_assets,omitempty"`
}

// Headline is one recent news item attached to the instrument record.
type Headline struct {
	Date     time.Time `json:"date"`
	Title    string    `json:"headline"`
	Provider string    `json:"provider,omitempty"`
}
