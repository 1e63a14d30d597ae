package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coinwatcher/internal/market"
)

func formatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		return d.StringFixed(6)
	}
	return d.StringFixed(2)
}

func formatPct(v float64) string {
	d := decimal.NewFromFloat(v)
	prefix := ""
	if d.Sign() > 0 {
		prefix = "+"
	}
	return prefix + d.StringFixed(2) + "%"
}

func formatUSD(v float64) string {
	d := decimal.NewFromFloat(v)
	billion := decimal.NewFromInt(1_000_000_000)
	million := decimal.NewFromInt(1_000_000)
	switch {
	case d.GreaterThanOrEqual(billion):
		return "$" + d.Div(billion).StringFixed(2) + "B"
	case d.GreaterThanOrEqual(million):
		return "$" + d.Div(million).StringFixed(2) + "M"
	default:
		return "$" + d.StringFixed(0)
	}
}

func renderTriggerMessage(alert Alert, record market.PriceRecord, mctx *market.Context) string {
	arrow := "📈"
	if alert.Direction == DirectionDown {
		arrow = "📉"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s alert triggered\n", arrow, alert.Symbol))
	builder.WriteString(fmt.Sprintf("Target: $%s\n", formatPrice(alert.TargetPrice)))
	builder.WriteString(fmt.Sprintf("Current: $%s (set at $%s)\n", formatPrice(record.Price), formatPrice(alert.OriginalPrice)))
	builder.WriteString(fmt.Sprintf("Source: %s, observed %s UTC\n", record.Source, record.ObservedAt.UTC().Format(time.RFC3339)))
	if mctx != nil {
		builder.WriteString(fmt.Sprintf("Market cap: %s, 24h volume: %s\n", formatUSD(mctx.MarketCapUSD), formatUSD(mctx.Volume24hUSD)))
		builder.WriteString(fmt.Sprintf("Change: %s 24h / %s 7d / %s 30d\n", formatPct(mctx.Change24hPct), formatPct(mctx.Change7dPct), formatPct(mctx.Change30dPct)))
	}
	return builder.String()
}

func renderVolatilityMessage(symbol string, record market.PriceRecord, pctChange float64) string {
	arrow := "📈"
	if pctChange < 0 {
		arrow = "📉"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s moved %s since the last alert\n", arrow, symbol, formatPct(pctChange)))
	builder.WriteString(fmt.Sprintf("Current: $%s (24h %s)\n", formatPrice(record.Price), formatPct(record.Change24hPct)))
	builder.WriteString(fmt.Sprintf("Source: %s, observed %s UTC\n", record.Source, record.ObservedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}
