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

// MarketplaceTrendyol is the canonical marketplace tag the dedicated
// connector owns.
const MarketplaceTrendyol = "Trendyol"

// Shipment package statuses swept on every fetch.
var trendyolStatusSweep = []string{
	"Created", "Picking", "Invoiced", "Shipped", "Delivered",
	"Cancelled", "UnSupplied", "UnDelivered", "Returned",
	"UnPacked", "AtCollectionPoint",
}

// TrendyolConnector fetches shipment packages from the Trendyol seller API.
type TrendyolConnector struct {
	baseURL    string
	supplierID string
	apiKey     string
	apiSecret  string
	pageSize   int
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
}

func NewTrendyolConnector(baseURL, supplierID, apiKey, apiSecret string, pageSize, maxRetries, timeoutSeconds int) *TrendyolConnector {
	if pageSize > 200 {
		pageSize = 200 // API maximum
	}
	return &TrendyolConnector{
		baseURL:    strings.TrimRight(baseURL, "/"),
		supplierID: supplierID,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		pageSize:   pageSize,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:     util.NamedLogger("connector.trendyol"),
	}
}

func (c *TrendyolConnector) Name() string { return models.SourceTrendyol }

func (c *TrendyolConnector) OwnsMarketplace(marketplace string) bool {
	return marketplace == MarketplaceTrendyol
}

type trendyolPackageDTO struct {
	ID                int64             `json:"id"`
	OrderNumber       string            `json:"orderNumber"`
	OrderDate         int64             `json:"orderDate"` // epoch millis
	Status            string            `json:"status"`
	GrossAmount       float64           `json:"grossAmount"`
	CargoTrackingNum  json.Number       `json:"cargoTrackingNumber"`
	CargoProviderName string            `json:"cargoProviderName"`
	Lines             []trendyolLineDTO `json:"lines"`
}

type trendyolLineDTO struct {
	ID                      int64   `json:"id"`
	MerchantSKU             string  `json:"merchantSku"`
	Barcode                 string  `json:"barcode"`
	ProductName             string  `json:"productName"`
	ProductColor            string  `json:"productColor"`
	OrderLineItemStatusName string  `json:"orderLineItemStatusName"`
	Quantity                int     `json:"quantity"`
	Price                   float64 `json:"price"`
	Amount                  float64 `json:"amount"`
}

type trendyolOrdersResponse struct {
	Content       []trendyolPackageDTO `json:"content"`
	TotalElements int                  `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Page          int                  `json:"page"`
}

// FetchPage sweeps the package status list, one 0-based page per call. The
// cursor encodes "statusIndex:page". The API filters on package-modified
// date, so fetched packages outside the requested order-date range are
// dropped client-side.
func (c *TrendyolConnector) FetchPage(ctx context.Context, dr DateRange, cursor string) (Page, error) {
	statusIdx, page, err := parseTrendyolCursor(cursor)
	if err != nil {
		return Page{}, &FatalFetchError{Source: c.Name(), Err: err}
	}
	if statusIdx >= len(trendyolStatusSweep) {
		return Page{Done: true}, nil
	}
	status := trendyolStatusSweep[statusIdx]

	endOfRange := dr.End.AddDate(0, 0, 1).Add(-time.Millisecond)

	q := url.Values{}
	q.Set("status", status)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(c.pageSize))
	q.Set("orderByField", "PackageLastModifiedDate")
	q.Set("orderByDirection", "DESC")
	q.Set("startDate", strconv.FormatInt(dr.Start.UnixMilli(), 10))
	q.Set("endDate", strconv.FormatInt(endOfRange.UnixMilli(), 10))

	path := fmt.Sprintf("/integration/order/sellers/%s/orders?%s", c.supplierID, q.Encode())

	var resp trendyolOrdersResponse
	err = doWithRetry(ctx, c.Name(), c.maxRetries, func() error {
		return c.getJSON(ctx, path, &resp)
	})
	if err != nil {
		return Page{}, err
	}
	util.FetchPagesTotal.WithLabelValues(c.Name()).Inc()

	orders := make([]models.RawOrder, 0, len(resp.Content))
	dropped := 0
	for _, pkg := range resp.Content {
		raw := c.toRawOrder(pkg)
		if raw.OrderDate.Before(dr.Start) || raw.OrderDate.After(endOfRange) {
			dropped++
			continue
		}
		orders = append(orders, raw)
	}
	if dropped > 0 {
		c.logger.Debug("Dropped packages outside order-date range",
			zap.String("status", status),
			zap.Int("dropped", dropped))
	}

	next := nextTrendyolCursor(statusIdx, page, resp.TotalPages, len(resp.Content))
	return Page{Orders: orders, NextCursor: next, Done: next == ""}, nil
}

func (c *TrendyolConnector) toRawOrder(pkg trendyolPackageDTO) models.RawOrder {
	orderDate := time.Now()
	if pkg.OrderDate > 0 {
		orderDate = time.UnixMilli(pkg.OrderDate)
	}

	items := make([]models.RawItem, 0, len(pkg.Lines))
	for _, line := range pkg.Lines {
		amount := line.Amount
		if amount == 0 {
			amount = line.Price * float64(line.Quantity)
		}
		items = append(items, models.RawItem{
			SourceLineID: strconv.FormatInt(line.ID, 10),
			SKU:          line.MerchantSKU,
			Barcode:      line.Barcode,
			Name:         line.ProductName,
			Color:        line.ProductColor,
			RawStatus:    line.OrderLineItemStatusName,
			Quantity:     line.Quantity,
			UnitPrice:    line.Price,
			Amount:       amount,
		})
	}

	orderCode := pkg.CargoTrackingNum.String()
	if orderCode == "" {
		orderCode = pkg.OrderNumber
	}

	return models.RawOrder{
		SourceName:    c.Name(),
		SourceOrderID: strconv.FormatInt(pkg.ID, 10),
		OrderCode:     orderCode,
		Marketplace:   MarketplaceTrendyol,
		Channel:       "ECOMMERCE",
		Shop:          MarketplaceTrendyol,
		OrderDate:     orderDate,
		RawStatus:     pkg.Status,
		OrderTotal:    pkg.GrossAmount,
		ShippingTotal: 0, // shipping is not itemized on packages
		Items:         items,
	}
}

func (c *TrendyolConnector) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &FatalFetchError{Source: c.Name(), Err: err}
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("User-Agent", c.supplierID+" - SelfIntegration")
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

func parseTrendyolCursor(cursor string) (statusIdx, page int, err error) {
	if cursor == "" {
		return 0, 0, nil
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

func nextTrendyolCursor(statusIdx, page, totalPages, fetched int) string {
	if fetched > 0 && page < totalPages-1 {
		return fmt.Sprintf("%d:%d", statusIdx, page+1)
	}
	if statusIdx+1 < len(trendyolStatusSweep) {
		return fmt.Sprintf("%d:%d", statusIdx+1, 0)
	}
	return ""
}
