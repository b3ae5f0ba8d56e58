package domain

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Location string

const (
	LocationLocal     Location = "local"
	LocationWarehouse Location = "warehouse"
)

// legacyWarehouseSuffix marks warehouse products in documents written before
// the location field existed.
const legacyWarehouseSuffix = " (Warehouse)"

func (l Location) Valid() bool {
	return l == LocationLocal || l == LocationWarehouse
}

type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Units        string          `json:"units"`
	ReorderLevel int             `json:"reorder_level"`
	Location     Location        `json:"location,omitempty"`
}

// UnitCount parses the string-encoded unit count. Malformed or negative
// values count as zero.
func (p Product) UnitCount() int {
	n, err := strconv.Atoi(strings.TrimSpace(p.Units))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (p Product) At() Location {
	if p.Location == "" {
		return LocationLocal
	}
	return p.Location
}

func (p Product) DisplayName() string {
	if p.At() == LocationWarehouse {
		return p.Name + legacyWarehouseSuffix
	}
	return p.Name
}

func FormatUnits(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}

type Sale struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Total          decimal.Decimal `json:"total"`
	SoldAt         time.Time       `json:"sold_at"`
	ClientName     string          `json:"client_name,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type PurchaseEntry struct {
	ProductName    string    `json:"product_name"`
	Quantity       Numeric   `json:"quantity"`
	Amount         Numeric   `json:"amount"`
	At             time.Time `json:"at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// Valid reports whether the entry may contribute to client totals:
// a positive whole quantity and a numeric non-negative amount.
func (e PurchaseEntry) Valid() bool {
	qty, ok := e.Quantity.Decimal()
	if !ok || !qty.IsPositive() || !qty.IsInteger() {
		return false
	}
	amount, ok := e.Amount.Decimal()
	if !ok || amount.IsNegative() {
		return false
	}
	return true
}

type Client struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	TotalPurchases  int64           `json:"total_purchases"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
	LastPurchaseAt  *time.Time      `json:"last_purchase_at,omitempty"`
	PurchaseHistory []PurchaseEntry `json:"purchase_history"`
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPaid || s == PaymentPending || s == PaymentFailed
}

type Payment struct {
	ID             int64           `json:"id"`
	ClientName     string          `json:"client_name"`
	Amount         decimal.Decimal `json:"amount"`
	Status         PaymentStatus   `json:"status"`
	Method         string          `json:"method"`
	SaleID         *int64          `json:"sale_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ExpiryItem struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Batch       string    `json:"batch,omitempty"`
	Quantity    int       `json:"quantity"`
	ExpiresOn   time.Time `json:"expires_on"`
}

type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityNormal TicketPriority = "normal"
	PriorityHigh   TicketPriority = "high"
)

func (p TicketPriority) Valid() bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

type SupportTicket struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject"`
	Message   string         `json:"message"`
	Priority  TicketPriority `json:"priority"`
	Status    TicketStatus   `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
}

type Company struct {
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	TaxID    string `json:"tax_id,omitempty"`
	Currency string `json:"currency,omitempty"`
}

type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncSyncing  SyncStatus = "syncing"
	SyncError    SyncStatus = "error"
	SyncOffline  SyncStatus = "offline"
	SyncDisabled SyncStatus = "disabled"
)

type NoticeKind string

const (
	NoticeSaveFailed     NoticeKind = "save_failed"
	NoticeRemoteDeferred NoticeKind = "remote_update_deferred"
	NoticeRemoteApplied  NoticeKind = "remote_update_applied"
	NoticeSignInRequired NoticeKind = "sign_in_required"
)

type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Units        int             `json:"units"`
	ReorderLevel int             `json:"reorder_level"`
	Location     Location        `json:"location,omitempty"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Category     *string          `json:"category,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	ReorderLevel *int             `json:"reorder_level,omitempty"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

type TransferRequest struct {
	Quantity    int      `json:"quantity"`
	Destination Location `json:"destination"`
}

type SaleRequest struct {
	ProductID  int64            `json:"product_id"`
	Quantity   int              `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	ClientName string           `json:"client_name,omitempty"`
}

type ClientCreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentRequest struct {
	ClientName  string          `json:"client_name"`
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	Method      string          `json:"method"`
	SaleID      *int64          `json:"sale_id,omitempty"`
	Description string          `json:"description,omitempty"`
}

type PaymentStatusRequest struct {
	Status PaymentStatus `json:"status"`
}

type ExpiryCreateRequest struct {
	ProductID int64     `json:"product_id"`
	Batch     string    `json:"batch,omitempty"`
	Quantity  int       `json:"quantity"`
	ExpiresOn time.Time `json:"expires_on"`
}

type TicketRequest struct {
	Subject  string         `json:"subject"`
	Message  string         `json:"message"`
	Priority TicketPriority `json:"priority,omitempty"`
}

type ActivityRequest struct {
	Kind string `json:"kind"`
}

const (
	ActivityInput      = "input"
	ActivityVisibility = "visibility"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated identity. Username doubles as the document owner id.
type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
