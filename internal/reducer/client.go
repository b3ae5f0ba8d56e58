package reducer

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stokku/backend/internal/domain"
)

type ClientPurchase struct {
	ClientName     string
	Amount         decimal.Decimal
	ProductName    string
	Quantity       int
	IdempotencyKey string
}

func AddClient(doc *domain.Document, req domain.ClientCreateRequest) (domain.Client, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Client{}, invalid("client name required")
	}
	if findClientByName(doc, name) >= 0 {
		return domain.Client{}, invalid("client %q already exists", name)
	}

	client := domain.Client{
		ID:              nextID(&doc.Sequences.Clients, doc.Clients, func(c domain.Client) int64 { return c.ID }),
		Name:            name,
		Email:           strings.TrimSpace(req.Email),
		Phone:           strings.TrimSpace(req.Phone),
		TotalSpent:      decimal.Zero,
		PurchaseHistory: []domain.PurchaseEntry{},
	}
	doc.Clients = append(doc.Clients, client)
	return client, nil
}

func DeleteClient(doc *domain.Document, clientID int64) error {
	idx := findClient(doc, clientID)
	if idx < 0 {
		return notFound("client", clientID)
	}
	doc.Clients = slices.Delete(doc.Clients, idx, idx+1)
	return nil
}

// ApplyClientPurchase is the only path that changes a client's lifetime
// totals. Invalid input, an unknown client or an already applied key make it
// a logged no-op; it reports whether the totals changed.
func ApplyClientPurchase(doc *domain.Document, env Env, p ClientPurchase) bool {
	log := env.logger().With(zap.String("client", p.ClientName), zap.String("idempotency_key", p.IdempotencyKey))

	name := strings.TrimSpace(p.ClientName)
	productName := strings.TrimSpace(p.ProductName)
	if name == "" || !p.Amount.IsPositive() || p.Quantity <= 0 || productName == "" {
		log.Warn("skipping client purchase update: incomplete data",
			zap.String("amount", p.Amount.String()), zap.Int("quantity", p.Quantity), zap.String("product", productName))
		return false
	}

	led := env.ledger()
	if led.Seen(p.IdempotencyKey) {
		log.Debug("skipping client purchase update: key already applied")
		return false
	}

	idx := findClientByName(doc, name)
	if idx < 0 {
		log.Warn("skipping client purchase update: client not found")
		return false
	}
	client := &doc.Clients[idx]

	if p.IdempotencyKey != "" && slices.ContainsFunc(client.PurchaseHistory, func(e domain.PurchaseEntry) bool {
		return e.IdempotencyKey == p.IdempotencyKey
	}) {
		log.Debug("skipping client purchase update: key already in purchase history")
		if led.Record(p.IdempotencyKey) {
			env.ledgerCleared()
		}
		return false
	}

	now := env.now()
	entry := domain.PurchaseEntry{
		ProductName:    productName,
		Quantity:       domain.NumericInt(int64(p.Quantity)),
		Amount:         domain.NumericOf(p.Amount),
		At:             now,
		IdempotencyKey: p.IdempotencyKey,
	}
	client.PurchaseHistory = append([]domain.PurchaseEntry{entry}, client.PurchaseHistory...)
	client.TotalPurchases += int64(p.Quantity)
	client.TotalSpent = client.TotalSpent.Add(p.Amount)
	client.LastPurchaseAt = &now

	if led.Record(p.IdempotencyKey) {
		log.Info("transaction ledger over limit, cleared")
		env.ledgerCleared()
	}
	return true
}

// RecalculateClientTotals rebuilds a client's totals from the valid entries
// of its purchase history. Applying it repeatedly gives the same result.
func RecalculateClientTotals(doc *domain.Document, clientID int64) (domain.Client, error) {
	idx := findClient(doc, clientID)
	if idx < 0 {
		return domain.Client{}, notFound("client", clientID)
	}
	client := &doc.Clients[idx]
	client.TotalPurchases, client.TotalSpent = totalsFromHistory(client.PurchaseHistory)
	return *client, nil
}

// RecalculateAllClientTotals repairs every client and returns how many changed.
func RecalculateAllClientTotals(doc *domain.Document) int {
	changed := 0
	for i := range doc.Clients {
		client := &doc.Clients[i]
		purchases, spent := totalsFromHistory(client.PurchaseHistory)
		if purchases != client.TotalPurchases || !spent.Equal(client.TotalSpent) {
			changed++
		}
		client.TotalPurchases, client.TotalSpent = purchases, spent
	}
	return changed
}

func FindClient(doc domain.Document, name string) (domain.Client, bool) {
	idx := findClientByName(&doc, strings.TrimSpace(name))
	if idx < 0 {
		return domain.Client{}, false
	}
	return doc.Clients[idx], true
}

func totalsFromHistory(history []domain.PurchaseEntry) (int64, decimal.Decimal) {
	qty := decimal.Zero
	spent := decimal.Zero
	for _, entry := range history {
		if !entry.Valid() {
			continue
		}
		q, _ := entry.Quantity.Decimal()
		a, _ := entry.Amount.Decimal()
		qty = qty.Add(q)
		spent = spent.Add(a)
	}
	return qty.IntPart(), spent
}

func findClient(doc *domain.Document, clientID int64) int {
	return indexOf(doc.Clients, func(c domain.Client) bool { return c.ID == clientID })
}

func findClientByName(doc *domain.Document, name string) int {
	return indexOf(doc.Clients, func(c domain.Client) bool { return strings.TrimSpace(c.Name) == name })
}
