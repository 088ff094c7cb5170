package services

import (
	"fmt"
	"strings"

	"github.com/Tyler050121/react-stock-app/internal/domain"
)

const klineContextRows = 20

// formatKLineContext renders recent kline rows as prompt text. Returns a
// placeholder when no data has been crawled yet.
func formatKLineContext(klines []domain.KLine) string {
	if len(klines) == 0 {
		return "no market data available"
	}
	rows := klines
	if len(rows) > klineContextRows {
		rows = rows[:klineContextRows]
	}
	var b strings.Builder
	for _, k := range rows {
		fmt.Fprintf(&b, "date: %s, open: %.2f, high: %.2f, low: %.2f, close: %.2f, volume: %.0f\n",
			k.Date.Format("2006-01-02"), k.Open, k.High, k.Low, k.Close, k.Volume)
	}
	return b.String()
}

// actorPrompt builds the per-role analysis prompt. The role name itself is
// configuration-driven, so the template stays generic and puts the role in
// the persona line.
func actorPrompt(actor, stockName, stockCode, klineContext string) string {
	return fmt.Sprintf(
		"You are acting as a %s. Analyze the stock %s (%s) strictly from that perspective.\n\n"+
			"Recent daily candlestick data:\n%s\n"+
			"Give a focused assessment (trend, key signals, outlook) and end with a one-line stance.",
		actor, stockName, stockCode, klineContext)
}

// conclusionPrompt aggregates the successful actor outputs into the final
// synthesis request.
func conclusionPrompt(stockName, stockCode string, results []actorResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", r.actor, r.content)
	}
	return fmt.Sprintf(
		"As a financial synthesis expert, combine the following analyses of %s (%s) into a final recommendation:\n\n%s"+
			"Provide:\n"+
			"1. An investment rating (strong buy / buy / neutral / reduce / strong sell)\n"+
			"2. Three main reasons\n"+
			"3. Two key risks\n"+
			"4. A suggested time frame (short / medium / long term)",
		stockName, stockCode, b.String())
}
