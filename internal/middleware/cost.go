package middleware

import (
	"math"
	"sync"
	"time"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
)

// CostConfig prices one provider. Costs are USD per 1000 tokens;
// ceilings are USD. A zero ceiling means unlimited.
type CostConfig struct {
	InputCostPer1K  float64
	OutputCostPer1K float64
	DailyCapUSD     float64
	MonthlyCapUSD   float64
}

// CostTracker enforces per-provider spend ceilings at millidollar
// precision. Check runs before a request is issued; a request that
// would land over an already-reached ceiling never goes out.
type CostTracker struct {
	provider string

	inPer1K  int64 // millidollars per 1000 tokens
	outPer1K int64
	dayCap   int64 // millidollars, 0 = unlimited
	monthCap int64

	mu         sync.Mutex
	dayKey     string
	monthKey   string
	daySpend   int64
	monthSpend int64

	now func() time.Time
}

// NewCostTracker builds a tracker for one provider.
func NewCostTracker(provider string, cfg CostConfig) *CostTracker {
	return &CostTracker{
		provider: provider,
		inPer1K:  usdToMilli(cfg.InputCostPer1K),
		outPer1K: usdToMilli(cfg.OutputCostPer1K),
		dayCap:   usdToMilli(cfg.DailyCapUSD),
		monthCap: usdToMilli(cfg.MonthlyCapUSD),
		now:      time.Now,
	}
}

func usdToMilli(usd float64) int64 {
	return int64(math.Round(usd * 1000))
}

// rolloverLocked resets counters when the UTC day or month changes.
func (c *CostTracker) rolloverLocked() {
	now := c.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")
	if day != c.dayKey {
		c.dayKey = day
		c.daySpend = 0
	}
	if month != c.monthKey {
		c.monthKey = month
		c.monthSpend = 0
	}
}

// Check fails with BudgetExceeded when either ceiling is reached.
func (c *CostTracker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	if c.dayCap > 0 && c.daySpend >= c.dayCap {
		return llmcerr.Newf(llmcerr.KindBudgetExceeded,
			"%s daily budget reached ($%.3f of $%.3f)",
			c.provider, float64(c.daySpend)/1000, float64(c.dayCap)/1000).
			WithRemediation("raise daily_usd_cap or wait for the UTC day rollover")
	}
	if c.monthCap > 0 && c.monthSpend >= c.monthCap {
		return llmcerr.Newf(llmcerr.KindBudgetExceeded,
			"%s monthly budget reached ($%.3f of $%.3f)",
			c.provider, float64(c.monthSpend)/1000, float64(c.monthCap)/1000).
			WithRemediation("raise monthly_usd_cap or disable the tier")
	}
	return nil
}

// Charge records actual token usage after a successful call.
func (c *CostTracker) Charge(tokensIn, tokensOut int) {
	cost := (int64(tokensIn)*c.inPer1K + int64(tokensOut)*c.outPer1K) / 1000
	if cost == 0 && (tokensIn > 0 || tokensOut > 0) && (c.inPer1K > 0 || c.outPer1K > 0) {
		cost = 1 // never round paid tokens down to free
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.daySpend += cost
	c.monthSpend += cost
}

// SpentTodayUSD reports today's spend for status output.
func (c *CostTracker) SpentTodayUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return float64(c.daySpend) / 1000
}

// SpentMonthUSD reports this month's spend.
func (c *CostTracker) SpentMonthUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return float64(c.monthSpend) / 1000
}
