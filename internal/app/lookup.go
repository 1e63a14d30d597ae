package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"coinwatcher/internal/market"
)

// Price performs a one-shot resolver lookup outside the timer cadence, the
// same path inbound chat commands use.
func (a *App) Price(ctx context.Context, symbol string, forceRefresh bool) error {
	svc := a.newService()

	record, err := svc.GetPrice(ctx, symbol, forceRefresh)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", symbol, err)
	}
	if record == nil {
		fmt.Fprintf(os.Stdout, "no data for %s\n", symbol)
		return nil
	}

	printRecords(os.Stdout, []market.PriceRecord{*record})
	return nil
}

// Snapshot runs a single poll cycle and prints the realtime table.
func (a *App) Snapshot(ctx context.Context) error {
	svc := a.newService()

	if err := svc.PollOnce(ctx); err != nil {
		return err
	}

	snapshot := svc.GetRealtimeSnapshot()
	if len(snapshot) == 0 {
		fmt.Fprintln(os.Stdout, "no realtime data; all source tiers failed")
		return nil
	}

	records := make([]market.PriceRecord, 0, len(snapshot))
	for _, record := range snapshot {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })

	printRecords(os.Stdout, records)
	return nil
}

func printRecords(out *os.File, records []market.PriceRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tPrice (USD)\t24h %\tVolume 24h\tSource\tObserved (UTC)")
	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			record.Symbol,
			decimal.NewFromFloat(record.Price).StringFixed(2),
			decimal.NewFromFloat(record.Change24hPct).StringFixed(2),
			decimal.NewFromFloat(record.Volume24hUSD).StringFixed(0),
			record.Source,
			record.ObservedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()
}
