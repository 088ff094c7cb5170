package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/config"
	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
)

const (
	defaultListURL  = "http://query.sse.com.cn/security/stock/getStockListData.do"
	defaultKLineURL = "http://push2his.eastmoney.com/api/qt/stock/kline/get"
	defaultQuoteURL = "http://push2.eastmoney.com/api/qt/stock/get"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"
)

// Client fetches listing, kline and quote data from the exchange and
// eastmoney JSON endpoints. Timeouts and 5xx responses are reported as
// transient so the crawl retry policy picks them up; 4xx responses are
// permanent.
type Client struct {
	httpClient *http.Client
	listURL    string
	klineURL   string
	quoteURL   string
	log        *logger.Logger
}

var _ ports.MarketDataSource = (*Client)(nil)

func NewClient(cfg config.CrawlerConfig, log *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		listURL:    cfg.ListURL,
		klineURL:   cfg.KLineURL,
		quoteURL:   cfg.QuoteURL,
		log:        log,
	}
	if c.listURL == "" {
		c.listURL = defaultListURL
	}
	if c.klineURL == "" {
		c.klineURL = defaultKLineURL
	}
	if c.quoteURL == "" {
		c.quoteURL = defaultQuoteURL
	}
	return c
}

type listResponse struct {
	PageHelp struct {
		Data []struct {
			Code string `json:"SECURITY_CODE_A"`
			Name string `json:"SECURITY_ABBR_A"`
		} `json:"data"`
	} `json:"pageHelp"`
}

func (c *Client) ListSecurities(ctx context.Context, limit int) ([]domain.SecurityRef, error) {
	pageSize := 50
	if limit > pageSize {
		pageSize = limit
	}
	params := url.Values{
		"stockType":          {"1"},
		"pageHelp.beginPage": {"1"},
		"pageHelp.pageSize":  {strconv.Itoa(pageSize)},
	}

	var resp listResponse
	if err := c.getJSON(ctx, c.listURL, params, map[string]string{"Referer": "http://www.sse.com.cn/"}, &resp); err != nil {
		return nil, err
	}

	refs := make([]domain.SecurityRef, 0, len(resp.PageHelp.Data))
	for _, item := range resp.PageHelp.Data {
		if item.Code == "" {
			continue
		}
		refs = append(refs, domain.SecurityRef{Code: item.Code, Name: item.Name, Market: "SH"})
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	c.log.Infow("market_list_ok", "count", len(refs))
	return refs, nil
}

func (c *Client) FetchSecurity(ctx context.Context, ref domain.SecurityRef) (*domain.SecuritySnapshot, error) {
	snap := &domain.SecuritySnapshot{SecurityRef: ref}

	daily, err := c.fetchKLines(ctx, ref, "1d")
	if err != nil {
		return nil, fmt.Errorf("kline 1d %s: %w", ref.Code, err)
	}
	snap.KLines = append(snap.KLines, daily...)

	minute, err := c.fetchKLines(ctx, ref, "1m")
	if err != nil {
		c.log.Warnw("market_minute_kline_failed", "code", ref.Code, "error", err)
	} else {
		snap.KLines = append(snap.KLines, minute...)
	}

	financial, err := c.fetchFinancial(ctx, ref)
	if err != nil {
		c.log.Warnw("market_financial_failed", "code", ref.Code, "error", err)
	} else {
		snap.Financial = financial
	}

	return snap, nil
}

type klineResponse struct {
	Data struct {
		KLines []string `json:"klines"`
	} `json:"data"`
}

func (c *Client) fetchKLines(ctx context.Context, ref domain.SecurityRef, resolution string) ([]domain.KLine, error) {
	now := time.Now()
	var start string
	klt := "101"
	if resolution == "1m" {
		klt = "1"
		start = now.AddDate(0, 0, -3).Format("20060102")
	} else {
		start = fmt.Sprintf("%d0101", now.Year())
	}

	params := url.Values{
		"secid":   {secid(ref)},
		"fields1": {"f1,f2,f3,f4,f5,f6,f7,f8"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58"},
		"klt":     {klt},
		"fqt":     {"1"},
		"beg":     {start},
		"end":     {now.Format("20060102")},
	}

	var resp klineResponse
	if err := c.getJSON(ctx, c.klineURL, params, nil, &resp); err != nil {
		return nil, err
	}

	klines := make([]domain.KLine, 0, len(resp.Data.KLines))
	for _, row := range resp.Data.KLines {
		kline, err := parseKLineRow(row, resolution)
		if err != nil {
			c.log.Warnw("market_kline_parse_failed", "code", ref.Code, "row", row, "error", err)
			continue
		}
		klines = append(klines, kline)
	}
	return klines, nil
}

// parseKLineRow decodes one "date,open,close,high,low,volume,turnover,..."
// row from the kline endpoint.
func parseKLineRow(row, resolution string) (domain.KLine, error) {
	parts := strings.Split(row, ",")
	if len(parts) < 7 {
		return domain.KLine{}, fmt.Errorf("short kline row: %q", row)
	}

	layout := "2006-01-02"
	if resolution == "1m" {
		layout = "2006-01-02 15:04"
	}
	date, err := time.Parse(layout, parts[0])
	if err != nil {
		return domain.KLine{}, err
	}

	values := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(parts[i+1], 64)
		if err != nil {
			return domain.KLine{}, err
		}
		values[i] = v
	}

	return domain.KLine{
		Date:       date,
		Resolution: resolution,
		Open:       values[0],
		Close:      values[1],
		High:       values[2],
		Low:        values[3],
		Volume:     values[4],
		Turnover:   values[5],
	}, nil
}

type quoteResponse struct {
	Data map[string]json.Number `json:"data"`
}

func (c *Client) fetchFinancial(ctx context.Context, ref domain.SecurityRef) (*domain.FinancialData, error) {
	params := url.Values{
		"secid":  {secid(ref)},
		"fields": {"f57,f58,f162,f167,f183,f184,f185"},
	}

	var resp quoteResponse
	if err := c.getJSON(ctx, c.quoteURL, params, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("quote %s: empty payload", ref.Code)
	}

	num := func(key string) float64 {
		v, _ := resp.Data[key].Float64()
		return v
	}
	return &domain.FinancialData{
		Date:                   time.Now(),
		PERatio:                num("f162"),
		PBRatio:                num("f167"),
		TotalMarketValue:       num("f183"),
		CirculatingMarketValue: num("f184"),
	}, nil
}

func secid(ref domain.SecurityRef) string {
	prefix := "0"
	if ref.Market == "SH" {
		prefix = "1"
	}
	return prefix + "." + ref.Code
}

func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network and timeout failures are retryable.
		return domain.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.Transient(fmt.Errorf("request %s: status %d", rawURL, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: status %d", rawURL, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
