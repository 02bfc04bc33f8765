package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"tokenmeter/internal/domain/usage"
	"tokenmeter/internal/meter"
)

const costPlaces = 6

func writeSummary(w io.Writer, t meter.Totals) {
	fmt.Fprintf(w, "model: %s (pricing %s)\n", t.Model, t.Family)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "category\ttokens\tcost (USD)\t")
	for _, cat := range usage.Categories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", cat, humanize.Comma(t.Counters.Get(cat)), usd(t.Cost(cat)))
	}
	fmt.Fprintf(tw, "input\t%s\t%s\t\n", humanize.Comma(t.InputTokens), usd(t.InputCost))
	fmt.Fprintf(tw, "output\t%s\t%s\t\n", humanize.Comma(t.OutputTokens), usd(t.OutputCost))
	_ = tw.Flush()

	fmt.Fprintf(w, "total: %s\n", usd(t.TotalCost))
}

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(costPlaces)
}
