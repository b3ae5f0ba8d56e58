package reducer

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/ledger"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestEnv() Env {
	return Env{Ledger: ledger.New(ledger.DefaultLimit), Now: testNow}
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func seededDocument(t *testing.T) domain.Document {
	t.Helper()
	doc := domain.NewDocument("owner")
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Widget", Category: "tools", Price: decimal.RequireFromString("50"), Units: 10, ReorderLevel: 2})
	require.NoError(t, err)
	_, err = AddClient(&doc, domain.ClientCreateRequest{Name: "Acme"})
	require.NoError(t, err)
	return doc
}

func TestClientPurchaseUpdateIsIdempotent(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()
	purchase := ClientPurchase{ClientName: "Acme", Amount: decimal.NewFromInt(100), ProductName: "Widget", Quantity: 2, IdempotencyKey: "k1"}

	assert.True(t, ApplyClientPurchase(&doc, env, purchase))
	assert.False(t, ApplyClientPurchase(&doc, env, purchase))

	client, ok := FindClient(doc, "Acme")
	require.True(t, ok)
	assert.True(t, client.TotalSpent.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), client.TotalPurchases)
	assert.Len(t, client.PurchaseHistory, 1)
}

func TestClientPurchaseUpdateDedupsAgainstHistoryAfterLedgerClear(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()
	purchase := ClientPurchase{ClientName: "Acme", Amount: decimal.NewFromInt(30), ProductName: "Widget", Quantity: 1, IdempotencyKey: "k-history"}

	require.True(t, ApplyClientPurchase(&doc, env, purchase))
	env.Ledger.Clear()

	assert.False(t, ApplyClientPurchase(&doc, env, purchase))
	client, _ := FindClient(doc, "Acme")
	assert.Len(t, client.PurchaseHistory, 1)
	assert.True(t, env.Ledger.Seen("k-history"))
}

func TestClientPurchaseUpdateSkipsInvalidInput(t *testing.T) {
	cases := map[string]ClientPurchase{
		"blank name":     {ClientName: "  ", Amount: decimal.NewFromInt(10), ProductName: "Widget", Quantity: 1},
		"zero amount":    {ClientName: "Acme", Amount: decimal.Zero, ProductName: "Widget", Quantity: 1},
		"zero quantity":  {ClientName: "Acme", Amount: decimal.NewFromInt(10), ProductName: "Widget", Quantity: 0},
		"no product":     {ClientName: "Acme", Amount: decimal.NewFromInt(10), ProductName: "", Quantity: 1},
		"unknown client": {ClientName: "Nobody", Amount: decimal.NewFromInt(10), ProductName: "Widget", Quantity: 1},
	}
	for name, purchase := range cases {
		t.Run(name, func(t *testing.T) {
			doc := seededDocument(t)
			env := newTestEnv()

			assert.False(t, ApplyClientPurchase(&doc, env, purchase))
			client, _ := FindClient(doc, "Acme")
			assert.Empty(t, client.PurchaseHistory)
			assert.Zero(t, client.TotalPurchases)
		})
	}
}

func TestRecordSaleThenDeleteRestoresStock(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()

	sale, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 3, UnitPrice: price("50")})
	require.NoError(t, err)
	assert.Equal(t, "7", doc.Products[0].Units)
	assert.Regexp(t, `^sale-\d+-1-[0-9a-f]+$`, sale.IdempotencyKey)

	_, err = DeleteSale(&doc, env, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "10", doc.Products[0].Units)
	assert.Empty(t, doc.Sales)
}

func TestRecordSaleRejectsInsufficientStock(t *testing.T) {
	doc := domain.NewDocument("owner")
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Widget", Price: decimal.NewFromInt(5), Units: 2})
	require.NoError(t, err)
	before := doc.Clone()

	_, err = RecordSale(&doc, newTestEnv(), domain.SaleRequest{ProductID: 1, Quantity: 5, UnitPrice: price("5")})

	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, "2", doc.Products[0].Units)
	assert.Equal(t, before.Sales, doc.Sales)
}

func TestRecordSaleValidation(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()

	_, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 0, UnitPrice: price("1")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = RecordSale(&doc, env, domain.SaleRequest{ProductID: 99, Quantity: 1, UnitPrice: price("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordSaleCreditsNamedClient(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()

	sale, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 2, UnitPrice: price("50"), ClientName: " Acme "})
	require.NoError(t, err)

	client, _ := FindClient(doc, "Acme")
	require.Len(t, client.PurchaseHistory, 1)
	assert.Equal(t, sale.IdempotencyKey, client.PurchaseHistory[0].IdempotencyKey)
	assert.True(t, client.TotalSpent.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(2), client.TotalPurchases)
	assert.True(t, env.Ledger.Seen(sale.IdempotencyKey))
}

func TestDeleteSaleKeepsClientTotals(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()
	sale, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 1, UnitPrice: price("50"), ClientName: "Acme"})
	require.NoError(t, err)

	_, err = DeleteSale(&doc, env, sale.ID)
	require.NoError(t, err)

	client, _ := FindClient(doc, "Acme")
	assert.Len(t, client.PurchaseHistory, 1)
	assert.Equal(t, int64(1), client.TotalPurchases)

	_, err = DeleteSale(&doc, env, sale.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecalculateClientTotalsIgnoresMalformedEntries(t *testing.T) {
	doc := seededDocument(t)
	doc.Clients[0].PurchaseHistory = []domain.PurchaseEntry{
		{ProductName: "Widget", Quantity: domain.NumericInt(2), Amount: domain.NumericInt(50)},
		{ProductName: "Widget", Quantity: domain.InvalidNumeric("bad"), Amount: domain.NumericInt(10)},
	}
	doc.Clients[0].TotalPurchases = 99

	once, err := RecalculateClientTotals(&doc, 1)
	require.NoError(t, err)
	twice, err := RecalculateClientTotals(&doc, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), once.TotalPurchases)
	assert.True(t, once.TotalSpent.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, once.TotalPurchases, twice.TotalPurchases)
	assert.True(t, once.TotalSpent.Equal(twice.TotalSpent))
}

func TestRecalculateAllClientTotalsCountsRepairs(t *testing.T) {
	doc := seededDocument(t)
	doc.Clients[0].TotalSpent = decimal.NewFromInt(7)

	assert.Equal(t, 1, RecalculateAllClientTotals(&doc))
	assert.Equal(t, 0, RecalculateAllClientTotals(&doc))
}

func TestTransferCreatesWarehouseProduct(t *testing.T) {
	doc := domain.NewDocument("owner")
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Pen", Category: "office", Price: decimal.RequireFromString("1.5"), Units: 20, ReorderLevel: 4})
	require.NoError(t, err)

	source, target, err := TransferProduct(&doc, 1, 5, domain.LocationWarehouse)
	require.NoError(t, err)

	assert.Equal(t, "15", source.Units)
	assert.Equal(t, "5", target.Units)
	assert.Equal(t, "Pen (Warehouse)", target.DisplayName())
	assert.Equal(t, 4, target.ReorderLevel)
	assert.Equal(t, 20, doc.Products[0].UnitCount()+doc.Products[1].UnitCount())
}

func TestTransferMergesIntoExistingDestination(t *testing.T) {
	doc := domain.NewDocument("owner")
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Pen", Category: "office", Units: 20})
	require.NoError(t, err)
	_, err = AddProduct(&doc, domain.ProductCreateRequest{Name: "Pen", Category: "office", Units: 3, Location: domain.LocationWarehouse})
	require.NoError(t, err)

	_, target, err := TransferProduct(&doc, 1, 5, domain.LocationWarehouse)
	require.NoError(t, err)

	assert.Equal(t, int64(2), target.ID)
	assert.Equal(t, "8", target.Units)
	assert.Len(t, doc.Products, 2)
}

func TestTransferFailures(t *testing.T) {
	doc := domain.NewDocument("owner")
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Pen", Units: 2})
	require.NoError(t, err)

	_, _, err = TransferProduct(&doc, 1, 1, domain.LocationLocal)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = TransferProduct(&doc, 1, 3, domain.LocationWarehouse)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestRestockRequiresPositiveQuantity(t *testing.T) {
	doc := seededDocument(t)

	_, err := RestockProduct(&doc, 1, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	product, err := RestockProduct(&doc, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, "15", product.Units)
}

func TestIDsAreNeverReused(t *testing.T) {
	doc := domain.NewDocument("owner")
	for _, name := range []string{"a", "b", "c"} {
		_, err := AddClient(&doc, domain.ClientCreateRequest{Name: name})
		require.NoError(t, err)
	}
	require.NoError(t, DeleteClient(&doc, 3))

	client, err := AddClient(&doc, domain.ClientCreateRequest{Name: "d"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), client.ID)

	_, err = AddClient(&doc, domain.ClientCreateRequest{Name: "d"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDeleteSaleAfterProductRemovalLeavesOtherStockAlone(t *testing.T) {
	doc := domain.NewDocument("owner")
	env := newTestEnv()
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Pen", Price: decimal.NewFromInt(2), Units: 5})
	require.NoError(t, err)
	ink, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Ink", Price: decimal.NewFromInt(9), Units: 5})
	require.NoError(t, err)

	sale, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: ink.ID, Quantity: 3, UnitPrice: price("9")})
	require.NoError(t, err)
	require.NoError(t, DeleteProduct(&doc, ink.ID))

	paper, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Paper", Price: decimal.NewFromInt(1), Units: 0})
	require.NoError(t, err)
	assert.NotEqual(t, ink.ID, paper.ID)

	_, err = DeleteSale(&doc, env, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "0", doc.Products[1].Units)
}

func TestSequencesStartFromLegacyIDs(t *testing.T) {
	doc := domain.Document{Products: []domain.Product{{ID: 7, Name: "Old", Units: "1"}}}
	doc.Normalize()
	assert.Equal(t, int64(7), doc.Sequences.Products)

	doc.Products = nil
	product, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "New", Price: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(8), product.ID)
}

func TestLedgerOverflowIsReported(t *testing.T) {
	doc := seededDocument(t)
	clears := 0
	env := Env{Ledger: ledger.New(2), Now: testNow, LedgerCleared: func() { clears++ }}

	for _, key := range []string{"k1", "k2", "k3"} {
		ApplyClientPurchase(&doc, env, ClientPurchase{ClientName: "Acme", Amount: decimal.NewFromInt(5), ProductName: "Widget", Quantity: 1, IdempotencyKey: key})
	}
	assert.Equal(t, 1, clears)
}

func TestFractionalQuantityEntriesAreSkipped(t *testing.T) {
	doc := seededDocument(t)
	doc.Clients[0].PurchaseHistory = []domain.PurchaseEntry{
		{ProductName: "Widget", Quantity: domain.NumericInt(2), Amount: domain.NumericInt(50)},
		{ProductName: "Widget", Quantity: domain.NumericOf(decimal.RequireFromString("1.5")), Amount: domain.NumericInt(30)},
	}

	client, err := RecalculateClientTotals(&doc, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), client.TotalPurchases)
	assert.True(t, client.TotalSpent.Equal(decimal.NewFromInt(50)))
}

func TestPaidPaymentCreditsClientOnce(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()

	payment, err := AddPayment(&doc, env, domain.PaymentRequest{ClientName: "Acme", Amount: decimal.NewFromInt(25), Status: domain.PaymentPending})
	require.NoError(t, err)
	client, _ := FindClient(doc, "Acme")
	assert.Empty(t, client.PurchaseHistory)

	_, err = UpdatePaymentStatus(&doc, env, payment.ID, domain.PaymentPaid)
	require.NoError(t, err)
	_, err = UpdatePaymentStatus(&doc, env, payment.ID, domain.PaymentPaid)
	require.NoError(t, err)

	client, _ = FindClient(doc, "Acme")
	require.Len(t, client.PurchaseHistory, 1)
	assert.Equal(t, "Payment", client.PurchaseHistory[0].ProductName)
	assert.True(t, client.TotalSpent.Equal(decimal.NewFromInt(25)))
}

func TestSaleLinkedPaymentDoesNotCreditClient(t *testing.T) {
	doc := seededDocument(t)
	env := newTestEnv()
	sale, err := RecordSale(&doc, env, domain.SaleRequest{ProductID: 1, Quantity: 1, UnitPrice: price("50"), ClientName: "Acme"})
	require.NoError(t, err)

	_, err = AddPayment(&doc, env, domain.PaymentRequest{ClientName: "Acme", Amount: decimal.NewFromInt(50), Status: domain.PaymentPaid, SaleID: &sale.ID})
	require.NoError(t, err)

	client, _ := FindClient(doc, "Acme")
	assert.Len(t, client.PurchaseHistory, 1)
	assert.True(t, OutstandingTotal(doc).IsZero())
}

func TestExpiringWithinSortsSoonestFirst(t *testing.T) {
	doc := seededDocument(t)
	_, err := AddExpiryItem(&doc, domain.ExpiryCreateRequest{ProductID: 1, Quantity: 1, ExpiresOn: testNow.Add(72 * time.Hour)})
	require.NoError(t, err)
	_, err = AddExpiryItem(&doc, domain.ExpiryCreateRequest{ProductID: 1, Quantity: 1, ExpiresOn: testNow.Add(24 * time.Hour)})
	require.NoError(t, err)
	_, err = AddExpiryItem(&doc, domain.ExpiryCreateRequest{ProductID: 1, Quantity: 1, ExpiresOn: testNow.Add(30 * 24 * time.Hour)})
	require.NoError(t, err)

	soon := ExpiringWithin(doc, testNow, 7*24*time.Hour)

	require.Len(t, soon, 2)
	assert.Equal(t, int64(2), soon[0].ID)
}

func TestTicketLifecycle(t *testing.T) {
	doc := domain.NewDocument("owner")
	env := newTestEnv()

	ticket, err := OpenTicket(&doc, env, domain.TicketRequest{Subject: "Printer jam"})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, ticket.Priority)

	closed, err := CloseTicket(&doc, env, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	require.NoError(t, DeleteTicket(&doc, ticket.ID))
	assert.Empty(t, doc.Tickets)
}

func TestLowStockProducts(t *testing.T) {
	doc := seededDocument(t)
	_, err := AddProduct(&doc, domain.ProductCreateRequest{Name: "Nail", Units: 1, ReorderLevel: 5})
	require.NoError(t, err)

	low := LowStockProducts(doc)

	require.Len(t, low, 1)
	assert.Equal(t, "Nail", low[0].Name)
	assert.True(t, InventoryValue(doc).Equal(decimal.NewFromInt(500)))
}
