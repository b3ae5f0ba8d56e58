package reducer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
)

func AddProduct(doc *domain.Document, req domain.ProductCreateRequest) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	category := strings.TrimSpace(req.Category)
	if name == "" {
		return domain.Product{}, invalid("product name required")
	}
	if req.Price.IsNegative() {
		return domain.Product{}, invalid("price must not be negative")
	}
	if req.Units < 0 || req.ReorderLevel < 0 {
		return domain.Product{}, invalid("units and reorder level must not be negative")
	}
	location := req.Location
	if location == "" {
		location = domain.LocationLocal
	}
	if !location.Valid() {
		return domain.Product{}, invalid("unknown location %q", location)
	}

	product := domain.Product{
		ID:           nextID(&doc.Sequences.Products, doc.Products, func(p domain.Product) int64 { return p.ID }),
		Name:         name,
		Category:     category,
		Price:        req.Price,
		Units:        domain.FormatUnits(req.Units),
		ReorderLevel: req.ReorderLevel,
		Location:     location,
	}
	doc.Products = append(doc.Products, product)
	return product, nil
}

func UpdateProduct(doc *domain.Document, productID int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	idx := findProduct(doc, productID)
	if idx < 0 {
		return domain.Product{}, notFound("product", productID)
	}

	updated := doc.Products[idx]
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalid("product name required")
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, invalid("price must not be negative")
		}
		updated.Price = *req.Price
	}
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Product{}, invalid("reorder level must not be negative")
		}
		updated.ReorderLevel = *req.ReorderLevel
	}

	doc.Products[idx] = updated
	return updated, nil
}

func DeleteProduct(doc *domain.Document, productID int64) error {
	idx := findProduct(doc, productID)
	if idx < 0 {
		return notFound("product", productID)
	}
	doc.Products = slices.Delete(doc.Products, idx, idx+1)
	return nil
}

func RestockProduct(doc *domain.Document, productID int64, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, invalid("restock quantity must be a positive integer")
	}
	idx := findProduct(doc, productID)
	if idx < 0 {
		return domain.Product{}, notFound("product", productID)
	}

	product := &doc.Products[idx]
	product.Units = domain.FormatUnits(product.UnitCount() + qty)
	return *product, nil
}

// TransferProduct moves qty units between the local shop and the warehouse.
// Units merge into a destination product with the same name and category
// when one exists; otherwise a new product record is created there.
func TransferProduct(doc *domain.Document, productID int64, qty int, destination domain.Location) (domain.Product, domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, domain.Product{}, invalid("transfer quantity must be a positive integer")
	}
	if !destination.Valid() {
		return domain.Product{}, domain.Product{}, invalid("unknown destination %q", destination)
	}
	srcIdx := findProduct(doc, productID)
	if srcIdx < 0 {
		return domain.Product{}, domain.Product{}, notFound("product", productID)
	}

	source := doc.Products[srcIdx]
	if source.At() == destination {
		return domain.Product{}, domain.Product{}, invalid("product %d is already at %s", productID, destination)
	}
	available := source.UnitCount()
	if qty > available {
		return domain.Product{}, domain.Product{}, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, qty, available)
	}

	source.Units = domain.FormatUnits(available - qty)
	doc.Products[srcIdx] = source

	dstIdx := indexOf(doc.Products, func(p domain.Product) bool {
		return p.ID != source.ID && p.At() == destination && p.Name == source.Name && p.Category == source.Category
	})
	if dstIdx >= 0 {
		target := &doc.Products[dstIdx]
		target.Units = domain.FormatUnits(target.UnitCount() + qty)
		return source, *target, nil
	}

	target := domain.Product{
		ID:           nextID(&doc.Sequences.Products, doc.Products, func(p domain.Product) int64 { return p.ID }),
		Name:         source.Name,
		Category:     source.Category,
		Price:        source.Price,
		Units:        domain.FormatUnits(qty),
		ReorderLevel: source.ReorderLevel,
		Location:     destination,
	}
	doc.Products = append(doc.Products, target)
	return source, target, nil
}

// LowStockProducts lists products at or below their reorder level.
func LowStockProducts(doc domain.Document) []domain.Product {
	out := make([]domain.Product, 0)
	for _, p := range doc.Products {
		if p.UnitCount() <= p.ReorderLevel {
			out = append(out, p)
		}
	}
	return out
}

func ProductsAt(doc domain.Document, location domain.Location) []domain.Product {
	out := make([]domain.Product, 0, len(doc.Products))
	for _, p := range doc.Products {
		if p.At() == location {
			out = append(out, p)
		}
	}
	return out
}

func InventoryValue(doc domain.Document) decimal.Decimal {
	total := decimal.Zero
	for _, p := range doc.Products {
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(p.UnitCount()))))
	}
	return total
}

func findProduct(doc *domain.Document, productID int64) int {
	return indexOf(doc.Products, func(p domain.Product) bool { return p.ID == productID })
}
