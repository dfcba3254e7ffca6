package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrIdentityCollision marks an incoming record that claims an existing
// order identity but clearly describes a different real-world order. The
// existing ledger row is never overwritten by such a record.
var ErrIdentityCollision = errors.New("order identity collision")

// OrderRecord is one canonical order plus its items, ready for upsert.
type OrderRecord struct {
	Order models.Order
	Items []models.OrderItem
}

// BatchResult summarizes one ledger batch.
type BatchResult struct {
	OrdersUpserted int
	ItemsUpserted  int
	Collisions     int
}

// UpsertOrders writes a batch of canonical orders in a single database
// transaction for throughput. Each order is wrapped in a savepoint, so the
// per-order guarantee holds regardless of batching: either the order and
// all its items commit, or none of them do. Identity collisions roll back
// only the colliding order and the batch continues.
func (s *Store) UpsertOrders(ctx context.Context, records []OrderRecord) (BatchResult, error) {
	var result BatchResult
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin ledger batch: %w", err)
	}
	defer tx.Rollback()

	logger := util.NamedLogger("store.ledger")

	for i, rec := range records {
		sp := fmt.Sprintf("order_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return result, fmt.Errorf("savepoint: %w", err)
		}

		items, err := s.upsertOrderTx(ctx, tx, rec)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return result, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			if errors.Is(err, ErrIdentityCollision) {
				result.Collisions++
				util.IdentityCollisionsTotal.Inc()
				logger.Warn("Rejected colliding order record",
					zap.String("source", rec.Order.SourceName),
					zap.String("order_id", rec.Order.SourceOrderID))
				continue
			}
			return result, err
		}

		result.OrdersUpserted++
		result.ItemsUpserted += items
		util.OrdersUpsertedTotal.WithLabelValues(rec.Order.SourceName, "ok").Inc()
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("commit ledger batch: %w", err)
	}
	return result, nil
}

// upsertOrderTx writes one order and reconciles its item set by line
// identity: update existing, insert new, never delete. Once-seen items are
// retained for audit even if a later fetch omits them.
func (s *Store) upsertOrderTx(ctx context.Context, tx *sqlx.Tx, rec OrderRecord) (int, error) {
	var existing struct {
		ID          int64  `db:"id"`
		Marketplace string `db:"marketplace"`
	}
	err := tx.GetContext(ctx, &existing,
		"SELECT id, marketplace FROM canonical_orders WHERE source_name = $1 AND source_order_id = $2",
		rec.Order.SourceName, rec.Order.SourceOrderID)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup order identity: %w", err)
	}
	if err == nil && existing.Marketplace != rec.Order.Marketplace {
		return 0, fmt.Errorf("%w: %s/%s held by %s, claimed by %s",
			ErrIdentityCollision, rec.Order.SourceName, rec.Order.SourceOrderID,
			existing.Marketplace, rec.Order.Marketplace)
	}

	var orderID int64
	upsert := `
		INSERT INTO canonical_orders (source_name, source_order_id, order_code,
			marketplace, shop, order_date, canonical_status, raw_status,
			order_total, shipping_total, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (source_name, source_order_id) DO UPDATE SET
			order_code = EXCLUDED.order_code,
			shop = EXCLUDED.shop,
			order_date = EXCLUDED.order_date,
			canonical_status = EXCLUDED.canonical_status,
			raw_status = EXCLUDED.raw_status,
			order_total = EXCLUDED.order_total,
			shipping_total = EXCLUDED.shipping_total,
			fetched_at = NOW(),
			updated_at = NOW()
		RETURNING id`

	err = tx.GetContext(ctx, &orderID, upsert,
		rec.Order.SourceName, rec.Order.SourceOrderID, rec.Order.OrderCode,
		rec.Order.Marketplace, rec.Order.Shop, rec.Order.OrderDate,
		rec.Order.Status, rec.Order.RawStatus,
		rec.Order.OrderTotal, rec.Order.ShippingTotal)
	if err != nil {
		return 0, fmt.Errorf("upsert order: %w", err)
	}

	itemUpsert := `
		INSERT INTO canonical_order_items (order_id, source_name, source_line_id,
			product_name, sku, barcode, color, raw_item_status,
			quantity, unit_price, item_amount, resolved_unit_cost, cost_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id, source_name, source_line_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			sku = EXCLUDED.sku,
			barcode = EXCLUDED.barcode,
			color = EXCLUDED.color,
			raw_item_status = EXCLUDED.raw_item_status,
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price,
			item_amount = EXCLUDED.item_amount,
			resolved_unit_cost = COALESCE(EXCLUDED.resolved_unit_cost, canonical_order_items.resolved_unit_cost),
			cost_source = CASE WHEN EXCLUDED.resolved_unit_cost IS NULL
				THEN canonical_order_items.cost_source ELSE EXCLUDED.cost_source END,
			updated_at = NOW()`

	count := 0
	for _, item := range rec.Items {
		_, err := tx.ExecContext(ctx, itemUpsert,
			orderID, item.SourceName, item.SourceLineID,
			item.ProductName, item.SKU, item.Barcode, item.Color, item.RawItemStatus,
			item.Quantity, item.UnitPrice, item.ItemAmount,
			item.ResolvedUnitCost, item.CostSource)
		if err != nil {
			return 0, fmt.Errorf("upsert item %s: %w", item.SourceLineID, err)
		}
		count++
		util.ItemsUpsertedTotal.Inc()
	}

	return count, nil
}

// GetOrdersInRange returns ledger orders whose order_date falls inside the
// closed day range, optionally filtered by marketplace.
func (s *Store) GetOrdersInRange(ctx context.Context, start, end time.Time, marketplace string) ([]models.Order, error) {
	endExclusive := end.AddDate(0, 0, 1)

	query := `SELECT * FROM canonical_orders
		WHERE order_date >= $1 AND order_date < $2`
	args := []interface{}{start, endExclusive}
	if marketplace != "" {
		query += " AND marketplace = $3"
		args = append(args, marketplace)
	}
	query += " ORDER BY order_date"

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// GetItemsForOrders returns every item belonging to the given ledger orders.
func (s *Store) GetItemsForOrders(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	if len(orderIDs) == 0 {
		return []models.OrderItem{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM canonical_order_items WHERE order_id IN (?)", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// GetOrderByIdentity retrieves one ledger order by its composite identity;
// nil means not found.
func (s *Store) GetOrderByIdentity(ctx context.Context, sourceName, sourceOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM canonical_orders WHERE source_name = $1 AND source_order_id = $2",
		sourceName, sourceOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}
