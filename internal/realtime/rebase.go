package realtime

import (
	"slices"
	"strings"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/reducer"
)

// Rebase folds a document that was edited without ever seeing the remote copy
// into the remote document. Unlike Merge it never drops a record:
//
//   - a record present on both sides keeps the local version when that
//     collection was written locally after the remote update, else the remote one;
//   - a record only the remote has is kept;
//   - a record only the local side has is appended under a fresh id, and
//     local sales, payments and expiry items follow the renumbering.
//
// Client purchase histories are joined by idempotency key and the totals of
// joined clients are rebuilt from history.
func Rebase(local, remote domain.Document, snap *backup.Snapshot) domain.Document {
	local = local.Clone()
	out := remote.Clone()

	newer := func(c domain.Collection) bool {
		if snap == nil {
			return false
		}
		at, ok := snap.Timestamp(c)
		return ok && at.After(remote.UpdatedAt)
	}

	products := make(map[int64]int64, len(local.Products))
	for _, lp := range local.Products {
		i := slices.IndexFunc(out.Products, func(p domain.Product) bool {
			return p.ID == lp.ID && p.Name == lp.Name && p.At() == lp.At()
		})
		if i >= 0 {
			if newer(domain.CollectionProducts) {
				out.Products[i] = lp
			}
			products[lp.ID] = lp.ID
			continue
		}
		out.Sequences.Products++
		products[lp.ID] = out.Sequences.Products
		lp.ID = out.Sequences.Products
		out.Products = append(out.Products, lp)
	}

	sales := make(map[int64]int64, len(local.Sales))
	for _, ls := range local.Sales {
		i := slices.IndexFunc(out.Sales, func(s domain.Sale) bool { return sameSale(s, ls) })
		if i >= 0 {
			if newer(domain.CollectionSales) {
				out.Sales[i] = ls
			}
			sales[ls.ID] = out.Sales[i].ID
			continue
		}
		out.Sequences.Sales++
		sales[ls.ID] = out.Sequences.Sales
		ls.ID = out.Sequences.Sales
		if id, ok := products[ls.ProductID]; ok {
			ls.ProductID = id
		}
		out.Sales = append(out.Sales, ls)
	}

	joined := make([]int64, 0)
	for _, lc := range local.Clients {
		name := strings.TrimSpace(lc.Name)
		i := slices.IndexFunc(out.Clients, func(c domain.Client) bool { return strings.TrimSpace(c.Name) == name })
		if i < 0 {
			out.Sequences.Clients++
			lc.ID = out.Sequences.Clients
			out.Clients = append(out.Clients, lc)
			continue
		}
		rc := out.Clients[i]
		kept, other := rc, lc
		if newer(domain.CollectionClients) {
			kept, other = lc, rc
			kept.ID = rc.ID
		}
		if history, added := joinHistory(kept.PurchaseHistory, other.PurchaseHistory); added {
			kept.PurchaseHistory = history
			joined = append(joined, kept.ID)
		}
		out.Clients[i] = kept
	}
	for _, id := range joined {
		_, _ = reducer.RecalculateClientTotals(&out, id)
	}

	for _, lp := range local.Payments {
		i := slices.IndexFunc(out.Payments, func(p domain.Payment) bool { return samePayment(p, lp) })
		if i >= 0 {
			if newer(domain.CollectionPayments) {
				lp.ID = out.Payments[i].ID
				out.Payments[i] = lp
			}
			continue
		}
		out.Sequences.Payments++
		lp.ID = out.Sequences.Payments
		if lp.SaleID != nil {
			if id, ok := sales[*lp.SaleID]; ok {
				lp.SaleID = &id
			}
		}
		out.Payments = append(out.Payments, lp)
	}

	for _, le := range local.Expiries {
		i := slices.IndexFunc(out.Expiries, func(e domain.ExpiryItem) bool {
			return e.ID == le.ID && e.ProductName == le.ProductName && e.Batch == le.Batch && e.ExpiresOn.Equal(le.ExpiresOn)
		})
		if i >= 0 {
			if newer(domain.CollectionExpiries) {
				out.Expiries[i] = le
			}
			continue
		}
		out.Sequences.Expiries++
		le.ID = out.Sequences.Expiries
		if id, ok := products[le.ProductID]; ok {
			le.ProductID = id
		}
		out.Expiries = append(out.Expiries, le)
	}

	for _, lt := range local.Tickets {
		i := slices.IndexFunc(out.Tickets, func(t domain.SupportTicket) bool { return t.ID == lt.ID })
		switch {
		case i < 0:
			out.Tickets = append(out.Tickets, lt)
		case newer(domain.CollectionTickets):
			out.Tickets[i] = lt
		}
	}

	if newer(domain.CollectionCompany) {
		out.Company = local.Company
	}

	out.Sequences = out.Sequences.Max(local.Sequences)
	out.UserID = remote.UserID
	out.UpdatedAt = remote.UpdatedAt
	return out
}

func sameSale(a, b domain.Sale) bool {
	if a.IdempotencyKey != "" || b.IdempotencyKey != "" {
		return a.IdempotencyKey == b.IdempotencyKey
	}
	return a.ID == b.ID && a.ProductName == b.ProductName && a.SoldAt.Equal(b.SoldAt)
}

func samePayment(a, b domain.Payment) bool {
	if a.IdempotencyKey != "" || b.IdempotencyKey != "" {
		return a.IdempotencyKey == b.IdempotencyKey
	}
	return a.ID == b.ID && a.ClientName == b.ClientName && a.CreatedAt.Equal(b.CreatedAt)
}

// joinHistory appends the entries of extra that base lacks. Keyed entries
// match by key; unkeyed ones only when identical.
func joinHistory(base, extra []domain.PurchaseEntry) ([]domain.PurchaseEntry, bool) {
	out := slices.Clone(base)
	added := false
	for _, e := range extra {
		if slices.ContainsFunc(out, func(b domain.PurchaseEntry) bool { return sameEntry(b, e) }) {
			continue
		}
		out = append(out, e)
		added = true
	}
	if added {
		slices.SortStableFunc(out, func(a, b domain.PurchaseEntry) int { return b.At.Compare(a.At) })
	}
	return out, added
}

func sameEntry(a, b domain.PurchaseEntry) bool {
	if a.IdempotencyKey != "" || b.IdempotencyKey != "" {
		return a.IdempotencyKey == b.IdempotencyKey
	}
	return a.ProductName == b.ProductName && a.At.Equal(b.At) &&
		numericText(a.Quantity) == numericText(b.Quantity) && numericText(a.Amount) == numericText(b.Amount)
}

func numericText(n domain.Numeric) string {
	raw, _ := n.MarshalJSON()
	return string(raw)
}
