package valuation

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteTable renders the report as an aligned text table.
func WriteTable(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	cur := strings.ToUpper(r.Currency)
	fmt.Fprintf(tw, "TOKEN\tAMOUNT\tPRICE (%s)\tVALUE (%s)\t\n", cur, cur)
	for _, h := range r.Holdings {
		price, value := "-", "-"
		if h.Priced {
			price = h.Price.StringFixed(4)
			value = h.Value.StringFixed(2)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", h.Symbol, h.Amount.StringFixed(8), price, value)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t%s\t\n", r.Total.StringFixed(2))
	return tw.Flush()
}
