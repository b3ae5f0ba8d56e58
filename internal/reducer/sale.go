package reducer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/xid"
)

// RecordSale appends a sale, takes the sold units out of stock and, when a
// client is named, credits the client's totals under the sale's key.
func RecordSale(doc *domain.Document, env Env, req domain.SaleRequest) (domain.Sale, error) {
	if req.ProductID <= 0 {
		return domain.Sale{}, invalid("product id required")
	}
	if req.Quantity <= 0 {
		return domain.Sale{}, invalid("quantity must be positive")
	}
	if req.UnitPrice == nil {
		return domain.Sale{}, invalid("unit price required")
	}
	if req.UnitPrice.IsNegative() {
		return domain.Sale{}, invalid("unit price must not be negative")
	}

	idx := findProduct(doc, req.ProductID)
	if idx < 0 {
		return domain.Sale{}, notFound("product", req.ProductID)
	}
	product := doc.Products[idx]
	available := product.UnitCount()
	if req.Quantity > available {
		return domain.Sale{}, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, req.Quantity, available)
	}

	now := env.now()
	clientName := strings.TrimSpace(req.ClientName)
	sale := domain.Sale{
		ID:             nextID(&doc.Sequences.Sales, doc.Sales, func(s domain.Sale) int64 { return s.ID }),
		ProductID:      product.ID,
		ProductName:    product.Name,
		Quantity:       req.Quantity,
		UnitPrice:      *req.UnitPrice,
		Total:          req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		SoldAt:         now,
		ClientName:     clientName,
		IdempotencyKey: xid.SaleKey(now, product.ID),
	}

	doc.Sales = append(doc.Sales, sale)
	doc.Products[idx].Units = domain.FormatUnits(available - req.Quantity)

	if clientName != "" {
		ApplyClientPurchase(doc, env, ClientPurchase{
			ClientName:     clientName,
			Amount:         sale.Total,
			ProductName:    sale.ProductName,
			Quantity:       sale.Quantity,
			IdempotencyKey: sale.IdempotencyKey,
		})
	}

	return sale, nil
}

// DeleteSale puts the sold units back and drops the sale. The client's
// totals and purchase history are left as they are.
func DeleteSale(doc *domain.Document, env Env, saleID int64) (domain.Sale, error) {
	idx := indexOf(doc.Sales, func(s domain.Sale) bool { return s.ID == saleID })
	if idx < 0 {
		return domain.Sale{}, notFound("sale", saleID)
	}
	sale := doc.Sales[idx]

	if pIdx := findProduct(doc, sale.ProductID); pIdx >= 0 {
		product := &doc.Products[pIdx]
		product.Units = domain.FormatUnits(product.UnitCount() + sale.Quantity)
	} else {
		env.logger().Warn("sale product no longer exists, stock not restored",
			zap.Int64("sale_id", sale.ID), zap.Int64("product_id", sale.ProductID))
	}

	doc.Sales = slices.Delete(doc.Sales, idx, idx+1)
	return sale, nil
}

func SalesTotal(doc domain.Document) decimal.Decimal {
	total := decimal.Zero
	for _, s := range doc.Sales {
		total = total.Add(s.Total)
	}
	return total
}

// SalesBetween returns sales with from <= SoldAt < to.
func SalesBetween(doc domain.Document, from time.Time, to time.Time) []domain.Sale {
	out := make([]domain.Sale, 0)
	for _, s := range doc.Sales {
		if !s.SoldAt.Before(from) && s.SoldAt.Before(to) {
			out = append(out, s)
		}
	}
	return out
}
