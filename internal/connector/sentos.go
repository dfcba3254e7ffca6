package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"go.uber.org/zap"
)

// Sentos order status codes swept on every fetch. 5 (shipped) is a normal
// active status, not a return.
var sentosStatusSweep = []int{1, 2, 3, 4, 5, 6, 99}

// SentosConnector fetches orders from the Sentos aggregator API. Sentos
// surfaces orders from every sales channel, including marketplaces owned by
// dedicated connectors; ownership filtering happens in the normalizer.
type SentosConnector struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	pageSize   int
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
}

func NewSentosConnector(baseURL, apiKey, apiSecret string, pageSize, maxRetries, timeoutSeconds int) *SentosConnector {
	return &SentosConnector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		pageSize:   pageSize,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:     util.NamedLogger("connector.sentos"),
	}
}

func (c *SentosConnector) Name() string { return models.SourceSentos }

// OwnsMarketplace is always false: the aggregator is never the designated
// owner of a marketplace that has its own connector.
func (c *SentosConnector) OwnsMarketplace(string) bool { return false }

// sentosPrice accepts both JSON numbers and Turkish-formatted price strings
// ("1.220,50").
type sentosPrice float64

func (p *sentosPrice) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*p = sentosPrice(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = sentosPrice(parseTurkishPrice(s))
	return nil
}

// parseTurkishPrice converts "1.220,50" or "220,00" to a float. Values
// already in dot-decimal form pass through.
func parseTurkishPrice(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") && strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	} else if strings.Contains(s, ",") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

type sentosOrderDTO struct {
	ID            int64           `json:"id"`
	OrderCode     string          `json:"order_code"`
	OrderDate     string          `json:"order_date"`
	Source        string          `json:"source"`
	Shop          string          `json:"shop"`
	Status        int             `json:"status"`
	Total         sentosPrice     `json:"total"`
	ShippingTotal sentosPrice     `json:"shipping_total"`
	Lines         []sentosItemDTO `json:"lines"`
	Items         []sentosItemDTO `json:"items"`
}

type sentosItemDTO struct {
	ID       int64       `json:"id"`
	SKU      string      `json:"sku"`
	Barcode  string      `json:"barcode"`
	Name     string      `json:"name"`
	Color    string      `json:"color"`
	Status   string      `json:"status"`
	Quantity int         `json:"quantity"`
	Price    sentosPrice `json:"price"`
	Amount   sentosPrice `json:"amount"`
}

type sentosOrdersResponse struct {
	Data       []sentosOrderDTO `json:"data"`
	Orders     []sentosOrderDTO `json:"orders"`
	Total      int              `json:"total"`
	TotalPages int              `json:"totalPages"`
}

// FetchPage sweeps the status list one page at a time. The cursor encodes
// "statusIndex:page"; an empty cursor starts at the first status.
func (c *SentosConnector) FetchPage(ctx context.Context, dr DateRange, cursor string) (Page, error) {
	statusIdx, page, err := parseSentosCursor(cursor)
	if err != nil {
		return Page{}, &FatalFetchError{Source: c.Name(), Err: err}
	}
	if statusIdx >= len(sentosStatusSweep) {
		return Page{Done: true}, nil
	}
	status := sentosStatusSweep[statusIdx]

	q := url.Values{}
	q.Set("start_date", dr.Start.Format("2006-01-02"))
	q.Set("end_date", dr.End.Format("2006-01-02"))
	q.Set("status", strconv.Itoa(status))
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(c.pageSize))

	var resp sentosOrdersResponse
	err = doWithRetry(ctx, c.Name(), c.maxRetries, func() error {
		return c.getJSON(ctx, "/orders?"+q.Encode(), &resp)
	})
	if err != nil {
		return Page{}, err
	}
	util.FetchPagesTotal.WithLabelValues(c.Name()).Inc()

	dtos := resp.Data
	if len(dtos) == 0 {
		dtos = resp.Orders
	}

	orders := make([]models.RawOrder, 0, len(dtos))
	for _, dto := range dtos {
		orders = append(orders, c.toRawOrder(dto))
	}
	c.logger.Debug("Fetched page",
		zap.Int("status", status),
		zap.Int("page", page),
		zap.Int("orders", len(orders)))

	next := nextSentosCursor(statusIdx, page, resp.TotalPages, len(dtos))
	return Page{Orders: orders, NextCursor: next, Done: next == ""}, nil
}

func (c *SentosConnector) toRawOrder(dto sentosOrderDTO) models.RawOrder {
	orderDate, err := time.Parse("2006-01-02 15:04:05", dto.OrderDate)
	if err != nil {
		orderDate = time.Now()
	}

	channel := "ECOMMERCE"
	if strings.EqualFold(dto.Source, "RETAIL") {
		channel = "RETAIL"
	}

	lines := dto.Lines
	if len(lines) == 0 {
		lines = dto.Items
	}

	items := make([]models.RawItem, 0, len(lines))
	zeroIDSeen := make(map[string]int)
	for _, line := range lines {
		lineID := fmt.Sprintf("%d_%s", line.ID, line.SKU)
		if line.ID == 0 {
			// Sentos occasionally reports line id 0; disambiguate by
			// SKU plus the occurrence count within this order.
			seq := zeroIDSeen[line.SKU]
			zeroIDSeen[line.SKU] = seq + 1
			lineID = fmt.Sprintf("0_%s_%d", line.SKU, seq)
		}

		rawStatus := line.Status
		if rawStatus == "" {
			rawStatus = models.ItemStatusAccepted
		}

		items = append(items, models.RawItem{
			SourceLineID: lineID,
			SKU:          line.SKU,
			Barcode:      line.Barcode,
			Name:         line.Name,
			Color:        line.Color,
			RawStatus:    rawStatus,
			Quantity:     line.Quantity,
			UnitPrice:    float64(line.Price),
			Amount:       float64(line.Amount),
		})
	}

	return models.RawOrder{
		SourceName:    c.Name(),
		SourceOrderID: strconv.FormatInt(dto.ID, 10),
		OrderCode:     dto.OrderCode,
		Marketplace:   dto.Source,
		Channel:       channel,
		Shop:          dto.Shop,
		OrderDate:     orderDate,
		RawStatus:     strconv.Itoa(dto.Status),
		OrderTotal:    float64(dto.Total),
		ShippingTotal: float64(dto.ShippingTotal),
		Items:         items,
	}
}

func (c *SentosConnector) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &FatalFetchError{Source: c.Name(), Err: err}
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientFetchError{Source: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if retryableStatus(resp.StatusCode) {
		return &TransientFetchError{Source: c.Name(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &FatalFetchError{Source: c.Name(), Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FatalFetchError{Source: c.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func parseSentosCursor(cursor string) (statusIdx, page int, err error) {
	if cursor == "" {
		return 0, 1, nil
	}
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	statusIdx, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	page, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return statusIdx, page, nil
}

// nextSentosCursor advances within the current status until its last page,
// then moves to the next status. Empty means the sweep is finished.
func nextSentosCursor(statusIdx, page, totalPages, fetched int) string {
	if fetched > 0 && page < totalPages {
		return fmt.Sprintf("%d:%d", statusIdx, page+1)
	}
	if statusIdx+1 < len(sentosStatusSweep) {
		return fmt.Sprintf("%d:%d", statusIdx+1, 1)
	}
	return ""
}
