package reducer

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"stokku/backend/internal/domain"
)

func AddExpiryItem(doc *domain.Document, req domain.ExpiryCreateRequest) (domain.ExpiryItem, error) {
	if req.Quantity <= 0 {
		return domain.ExpiryItem{}, invalid("quantity must be positive")
	}
	if req.ExpiresOn.IsZero() {
		return domain.ExpiryItem{}, invalid("expiry date required")
	}
	idx := findProduct(doc, req.ProductID)
	if idx < 0 {
		return domain.ExpiryItem{}, notFound("product", req.ProductID)
	}

	item := domain.ExpiryItem{
		ID:          nextID(&doc.Sequences.Expiries, doc.Expiries, func(e domain.ExpiryItem) int64 { return e.ID }),
		ProductID:   req.ProductID,
		ProductName: doc.Products[idx].Name,
		Batch:       strings.TrimSpace(req.Batch),
		Quantity:    req.Quantity,
		ExpiresOn:   req.ExpiresOn.UTC(),
	}
	doc.Expiries = append(doc.Expiries, item)
	return item, nil
}

func DeleteExpiryItem(doc *domain.Document, itemID int64) error {
	idx := indexOf(doc.Expiries, func(e domain.ExpiryItem) bool { return e.ID == itemID })
	if idx < 0 {
		return notFound("expiry item", itemID)
	}
	doc.Expiries = slices.Delete(doc.Expiries, idx, idx+1)
	return nil
}

// ExpiringWithin lists items expiring before now+window, soonest first.
// Already expired items are included.
func ExpiringWithin(doc domain.Document, now time.Time, window time.Duration) []domain.ExpiryItem {
	cutoff := now.Add(window)
	out := make([]domain.ExpiryItem, 0)
	for _, item := range doc.Expiries {
		if item.ExpiresOn.Before(cutoff) {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b domain.ExpiryItem) int {
		return a.ExpiresOn.Compare(b.ExpiresOn)
	})
	return out
}

func OpenTicket(doc *domain.Document, env Env, req domain.TicketRequest) (domain.SupportTicket, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return domain.SupportTicket{}, invalid("ticket subject required")
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return domain.SupportTicket{}, invalid("unknown priority %q", req.Priority)
	}

	ticket := domain.SupportTicket{
		ID:        uuid.NewString(),
		Subject:   subject,
		Message:   strings.TrimSpace(req.Message),
		Priority:  priority,
		Status:    domain.TicketOpen,
		CreatedAt: env.now(),
	}
	doc.Tickets = append(doc.Tickets, ticket)
	return ticket, nil
}

func CloseTicket(doc *domain.Document, env Env, ticketID string) (domain.SupportTicket, error) {
	idx := indexOf(doc.Tickets, func(t domain.SupportTicket) bool { return t.ID == ticketID })
	if idx < 0 {
		return domain.SupportTicket{}, notFound("ticket", ticketID)
	}
	ticket := &doc.Tickets[idx]
	if ticket.Status == domain.TicketClosed {
		return *ticket, nil
	}
	now := env.now()
	ticket.Status = domain.TicketClosed
	ticket.ClosedAt = &now
	return *ticket, nil
}

func DeleteTicket(doc *domain.Document, ticketID string) error {
	idx := indexOf(doc.Tickets, func(t domain.SupportTicket) bool { return t.ID == ticketID })
	if idx < 0 {
		return notFound("ticket", ticketID)
	}
	doc.Tickets = slices.Delete(doc.Tickets, idx, idx+1)
	return nil
}

func SetCompany(doc *domain.Document, company domain.Company) (domain.Company, error) {
	company.Name = strings.TrimSpace(company.Name)
	if company.Name == "" {
		return domain.Company{}, invalid("company name required")
	}
	company.Address = strings.TrimSpace(company.Address)
	company.Phone = strings.TrimSpace(company.Phone)
	company.Email = strings.TrimSpace(company.Email)
	company.TaxID = strings.TrimSpace(company.TaxID)
	company.Currency = strings.ToUpper(strings.TrimSpace(company.Currency))
	doc.Company = company
	return company, nil
}
