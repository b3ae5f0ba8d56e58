package reducer

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/xid"
)

const defaultPaymentDescription = "Payment"

// AddPayment records a payment. A paid payment that is not linked to a sale
// credits the client under the payment's own key; sale-linked payments never
// touch client totals because the sale already did.
func AddPayment(doc *domain.Document, env Env, req domain.PaymentRequest) (domain.Payment, error) {
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		return domain.Payment{}, invalid("client name required")
	}
	if !req.Amount.IsPositive() {
		return domain.Payment{}, invalid("amount must be positive")
	}
	status := req.Status
	if status == "" {
		status = domain.PaymentPending
	}
	if !status.Valid() {
		return domain.Payment{}, invalid("unknown payment status %q", req.Status)
	}
	if req.SaleID != nil && indexOf(doc.Sales, func(s domain.Sale) bool { return s.ID == *req.SaleID }) < 0 {
		return domain.Payment{}, notFound("sale", *req.SaleID)
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = "cash"
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultPaymentDescription
	}

	now := env.now()
	payment := domain.Payment{
		ID:             nextID(&doc.Sequences.Payments, doc.Payments, func(p domain.Payment) int64 { return p.ID }),
		ClientName:     clientName,
		Amount:         req.Amount,
		Status:         status,
		Method:         method,
		SaleID:         req.SaleID,
		Description:    description,
		IdempotencyKey: xid.PaymentKey(now),
		CreatedAt:      now,
	}
	doc.Payments = append(doc.Payments, payment)

	creditPayment(doc, env, payment)
	return payment, nil
}

// UpdatePaymentStatus changes a payment's status; moving to paid credits the
// client at most once because the payment key is reused.
func UpdatePaymentStatus(doc *domain.Document, env Env, paymentID int64, status domain.PaymentStatus) (domain.Payment, error) {
	if !status.Valid() {
		return domain.Payment{}, invalid("unknown payment status %q", status)
	}
	idx := indexOf(doc.Payments, func(p domain.Payment) bool { return p.ID == paymentID })
	if idx < 0 {
		return domain.Payment{}, notFound("payment", paymentID)
	}

	payment := &doc.Payments[idx]
	payment.Status = status
	if payment.IdempotencyKey == "" {
		payment.IdempotencyKey = xid.PaymentKey(payment.CreatedAt)
	}
	creditPayment(doc, env, *payment)
	return doc.Payments[idx], nil
}

func DeletePayment(doc *domain.Document, paymentID int64) error {
	idx := indexOf(doc.Payments, func(p domain.Payment) bool { return p.ID == paymentID })
	if idx < 0 {
		return notFound("payment", paymentID)
	}
	doc.Payments = slices.Delete(doc.Payments, idx, idx+1)
	return nil
}

// OutstandingTotal sums pending payments.
func OutstandingTotal(doc domain.Document) decimal.Decimal {
	total := decimal.Zero
	for _, p := range doc.Payments {
		if p.Status == domain.PaymentPending {
			total = total.Add(p.Amount)
		}
	}
	return total
}

func creditPayment(doc *domain.Document, env Env, payment domain.Payment) {
	if payment.Status != domain.PaymentPaid || payment.SaleID != nil {
		return
	}
	ApplyClientPurchase(doc, env, ClientPurchase{
		ClientName:     payment.ClientName,
		Amount:         payment.Amount,
		ProductName:    payment.Description,
		Quantity:       1,
		IdempotencyKey: payment.IdempotencyKey,
	})
}
