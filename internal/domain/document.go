package domain

import (
	"slices"
	"strings"
	"time"
)

// Document is the whole per-user business state, stored remotely as one row.
type Document struct {
	UserID    string          `json:"user_id"`
	Products  []Product       `json:"products"`
	Sales     []Sale          `json:"sales"`
	Clients   []Client        `json:"clients"`
	Payments  []Payment       `json:"payments"`
	Expiries  []ExpiryItem    `json:"expiries"`
	Tickets   []SupportTicket `json:"tickets"`
	Company   Company         `json:"company"`
	Sequences Sequences       `json:"sequences"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Sequences holds the last id issued for each integer-keyed collection.
// Values only grow, so an id is never handed out twice even after the
// record holding it is deleted.
type Sequences struct {
	Products int64 `json:"products"`
	Sales    int64 `json:"sales"`
	Clients  int64 `json:"clients"`
	Payments int64 `json:"payments"`
	Expiries int64 `json:"expiries"`
}

// Max returns the field-wise maximum of s and o.
func (s Sequences) Max(o Sequences) Sequences {
	return Sequences{
		Products: max(s.Products, o.Products),
		Sales:    max(s.Sales, o.Sales),
		Clients:  max(s.Clients, o.Clients),
		Payments: max(s.Payments, o.Payments),
		Expiries: max(s.Expiries, o.Expiries),
	}
}

type Collection string

const (
	CollectionProducts Collection = "products"
	CollectionSales    Collection = "sales"
	CollectionClients  Collection = "clients"
	CollectionPayments Collection = "payments"
	CollectionExpiries Collection = "expiries"
	CollectionTickets  Collection = "tickets"
	CollectionCompany  Collection = "company"
)

// CoreCollections are the sequences compared for change detection and kept
// in the pre-mutation snapshot.
var CoreCollections = []Collection{
	CollectionProducts,
	CollectionSales,
	CollectionClients,
	CollectionPayments,
}

var AllCollections = []Collection{
	CollectionProducts,
	CollectionSales,
	CollectionClients,
	CollectionPayments,
	CollectionExpiries,
	CollectionTickets,
	CollectionCompany,
}

func NewDocument(userID string) Document {
	doc := Document{UserID: userID}
	doc.Normalize()
	return doc
}

type Counts struct {
	Products int `json:"products"`
	Sales    int `json:"sales"`
	Clients  int `json:"clients"`
	Payments int `json:"payments"`
}

func (d Document) Counts() Counts {
	return Counts{
		Products: len(d.Products),
		Sales:    len(d.Sales),
		Clients:  len(d.Clients),
		Payments: len(d.Payments),
	}
}

// Normalize replaces nil sequences with empty ones and migrates legacy
// name-suffixed warehouse products to the location field.
func (d *Document) Normalize() {
	if d.Products == nil {
		d.Products = []Product{}
	}
	if d.Sales == nil {
		d.Sales = []Sale{}
	}
	if d.Clients == nil {
		d.Clients = []Client{}
	}
	if d.Payments == nil {
		d.Payments = []Payment{}
	}
	if d.Expiries == nil {
		d.Expiries = []ExpiryItem{}
	}
	if d.Tickets == nil {
		d.Tickets = []SupportTicket{}
	}

	for i := range d.Products {
		p := &d.Products[i]
		if p.Location == "" && strings.HasSuffix(p.Name, legacyWarehouseSuffix) {
			p.Name = strings.TrimSuffix(p.Name, legacyWarehouseSuffix)
			p.Location = LocationWarehouse
		}
		if p.Location == "" {
			p.Location = LocationLocal
		}
	}
	for i := range d.Clients {
		if d.Clients[i].PurchaseHistory == nil {
			d.Clients[i].PurchaseHistory = []PurchaseEntry{}
		}
	}

	// Documents written before sequences existed start from their highest id.
	for _, p := range d.Products {
		d.Sequences.Products = max(d.Sequences.Products, p.ID)
	}
	for _, s := range d.Sales {
		d.Sequences.Sales = max(d.Sequences.Sales, s.ID)
	}
	for _, c := range d.Clients {
		d.Sequences.Clients = max(d.Sequences.Clients, c.ID)
	}
	for _, p := range d.Payments {
		d.Sequences.Payments = max(d.Sequences.Payments, p.ID)
	}
	for _, e := range d.Expiries {
		d.Sequences.Expiries = max(d.Sequences.Expiries, e.ID)
	}
}

func (d Document) Clone() Document {
	out := d
	out.Products = slices.Clone(d.Products)
	out.Sales = slices.Clone(d.Sales)
	out.Payments = cloneSlice(d.Payments, clonePayment)
	out.Clients = cloneSlice(d.Clients, cloneClient)
	out.Expiries = slices.Clone(d.Expiries)
	out.Tickets = cloneSlice(d.Tickets, cloneTicket)
	out.Normalize()
	return out
}

// Adopt replaces one collection of d with a copy of the same collection in src.
func (d *Document) Adopt(c Collection, src Document) {
	src = src.Clone()
	switch c {
	case CollectionProducts:
		d.Products = src.Products
	case CollectionSales:
		d.Sales = src.Sales
	case CollectionClients:
		d.Clients = src.Clients
	case CollectionPayments:
		d.Payments = src.Payments
	case CollectionExpiries:
		d.Expiries = src.Expiries
	case CollectionTickets:
		d.Tickets = src.Tickets
	case CollectionCompany:
		d.Company = src.Company
	}
}

func cloneSlice[T any](src []T, fn func(T) T) []T {
	if src == nil {
		return nil
	}
	out := make([]T, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return out
}

func cloneClient(c Client) Client {
	c.PurchaseHistory = slices.Clone(c.PurchaseHistory)
	if c.LastPurchaseAt != nil {
		at := *c.LastPurchaseAt
		c.LastPurchaseAt = &at
	}
	return c
}

func clonePayment(p Payment) Payment {
	if p.SaleID != nil {
		id := *p.SaleID
		p.SaleID = &id
	}
	return p
}

func cloneTicket(t SupportTicket) SupportTicket {
	if t.ClosedAt != nil {
		at := *t.ClosedAt
		t.ClosedAt = &at
	}
	return t
}
