// Package report renders session results for humans: a text summary and a
// trades CSV export. Money values go through decimal so printed figures are
// rounded, not truncated float noise.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bandbot/internal/store"
)

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func pct(v float64) string {
	return decimal.NewFromFloat(v * 100).StringFixed(2) + "%"
}

// Summary renders a fixed-width session report.
func Summary(sess *store.Session, m *store.MetricsRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session     %s\n", sess.ID)
	fmt.Fprintf(&b, "Symbol      %s  (%s)\n", sess.Symbol, sess.StrategyName)
	fmt.Fprintf(&b, "Status      %s\n", sess.Status)
	if sess.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error       %s\n", sess.ErrorMessage)
	}
	fmt.Fprintf(&b, "Capital     %s\n", money(sess.InitialCapital))
	if m == nil {
		b.WriteString("Metrics     (none)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Range       %s .. %s\n",
		time.UnixMilli(m.StartTs).UTC().Format("2006-01-02 15:04"),
		time.UnixMilli(m.EndTs).UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Trades      %d\n", m.TotalTrades)
	fmt.Fprintf(&b, "Win rate    %s\n", pct(m.WinRate))
	fmt.Fprintf(&b, "Total pnl   %s  (%s)\n", money(m.TotalPnl), pct(m.TotalReturn))
	fmt.Fprintf(&b, "Max DD      %s\n", pct(m.MaxDrawdown))
	fmt.Fprintf(&b, "Sharpe      %s\n", decimal.NewFromFloat(m.Sharpe).StringFixed(3))
	fmt.Fprintf(&b, "PF          %s\n", decimal.NewFromFloat(m.ProfitFactor).StringFixed(3))
	fmt.Fprintf(&b, "Expectancy  %s\n", money(m.Expectancy))
	fmt.Fprintf(&b, "Avg win     %s   Avg loss %s\n", money(m.AvgWin), money(m.AvgLoss))
	return b.String()
}

// WriteTradesCSV exports trade rows with a header.
func WriteTradesCSV(w io.Writer, trades []store.TradeRecord) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "ts", "symbol", "side", "action", "qty", "price", "fee",
		"pnl", "pnl_pct", "strategy", "reason", "open_trade_id",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.Ts, 10),
			t.Symbol,
			t.Side,
			t.Action,
			strconv.FormatFloat(t.Qty, 'f', -1, 64),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			decimal.NewFromFloat(t.Fee).StringFixed(8),
			decimal.NewFromFloat(t.Pnl).StringFixed(8),
			decimal.NewFromFloat(t.PnlPct).StringFixed(6),
			t.StrategyName,
			t.Reason,
			strconv.FormatInt(t.OpenTradeID, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
