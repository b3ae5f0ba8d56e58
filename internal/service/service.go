package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/clock"
	"stokku/backend/internal/domain"
	"stokku/backend/internal/metrics"
	"stokku/backend/internal/realtime"
	"stokku/backend/internal/reducer"
	"stokku/backend/internal/session"
)

const expiryWarningWindow = 30 * 24 * time.Hour

var (
	touchProducts = []domain.Collection{domain.CollectionProducts}
	touchSale     = []domain.Collection{domain.CollectionProducts, domain.CollectionSales, domain.CollectionClients}
	touchClients  = []domain.Collection{domain.CollectionClients}
	touchPayments = []domain.Collection{domain.CollectionPayments, domain.CollectionClients}
	touchExpiries = []domain.Collection{domain.CollectionExpiries}
	touchTickets  = []domain.Collection{domain.CollectionTickets}
	touchCompany  = []domain.Collection{domain.CollectionCompany}
)

type Options struct {
	SaveDebounce time.Duration
	Realtime     realtime.Config
	Clock        clock.Clock
}

// Service keeps one live session per signed-in user and exposes the
// mutation entry points and state reads on top of it.
type Service struct {
	remote  session.Remote
	backup  backup.Store
	metrics *metrics.Sync
	opts    Options
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
	lastUsed map[string]time.Time
}

// New builds the service. remote may be nil, in which case every session
// runs with sync disabled.
func New(remote session.Remote, bk backup.Store, m *metrics.Sync, opts Options, log *zap.Logger) *Service {
	if bk == nil {
		bk = backup.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		remote:   remote,
		backup:   bk,
		metrics:  m,
		opts:     opts,
		log:      log,
		sessions: make(map[string]*session.Session),
		lastUsed: make(map[string]time.Time),
	}
}

// Session returns the caller's session, loading it on first use.
func (s *Service) Session(ctx context.Context) (*session.Session, error) {
	actor, ok := domain.ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return nil, fmt.Errorf("%w: no signed-in user", domain.ErrAuth)
	}

	s.mu.Lock()
	sess, exists := s.sessions[actor.Username]
	if !exists {
		opts := session.Options{
			Actor:        actor,
			Remote:       s.remote,
			Backup:       s.backup,
			Clock:        s.opts.Clock,
			SaveDebounce: s.opts.SaveDebounce,
			Realtime:     s.opts.Realtime,
			Metrics:      s.metrics,
			Log:          s.log,
		}
		sess = session.New(opts)
		s.sessions[actor.Username] = sess
	}
	s.lastUsed[actor.Username] = s.opts.Clock.Now()
	s.mu.Unlock()

	if err := sess.Load(ctx); err != nil {
		s.mu.Lock()
		if s.sessions[actor.Username] == sess {
			delete(s.sessions, actor.Username)
			delete(s.lastUsed, actor.Username)
		}
		s.mu.Unlock()
		if cerr := sess.Close(ctx); cerr != nil {
			s.log.Warn("session close failed", zap.String("user_id", actor.Username), zap.Error(cerr))
		}
		return nil, err
	}
	return sess, nil
}

// EvictIdle flushes and drops every session not used for maxIdle and
// returns how many were dropped. The next request for that user loads a
// fresh session.
func (s *Service) EvictIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := s.opts.Clock.Now().Add(-maxIdle)

	s.mu.Lock()
	var idle []*session.Session
	for user, sess := range s.sessions {
		if s.lastUsed[user].After(cutoff) {
			continue
		}
		idle = append(idle, sess)
		delete(s.sessions, user)
		delete(s.lastUsed, user)
	}
	s.mu.Unlock()

	for _, sess := range idle {
		if err := sess.Close(ctx); err != nil {
			s.log.Warn("idle session close failed", zap.String("user_id", sess.UserID()), zap.Error(err))
		}
	}
	if len(idle) > 0 {
		s.log.Info("idle sessions evicted", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Close flushes and stops every session.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session.Session)
	s.lastUsed = make(map[string]time.Time)
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(ctx); err != nil {
			s.log.Warn("session close failed", zap.String("user_id", sess.UserID()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mutate[T any](ctx context.Context, s *Service, operation string, touched []domain.Collection, fn func(doc *domain.Document, env reducer.Env) (T, error)) (T, error) {
	var out T
	sess, err := s.Session(ctx)
	if err != nil {
		return out, err
	}
	err = sess.Mutate(operation, touched, func(doc *domain.Document, env reducer.Env) error {
		v, err := fn(doc, env)
		out = v
		return err
	})
	return out, err
}

func (s *Service) State(ctx context.Context) (domain.Document, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	return sess.State(), nil
}

func (s *Service) Status(ctx context.Context) (session.Status, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return session.Status{}, err
	}
	return sess.Status(), nil
}

func (s *Service) Notices(ctx context.Context) ([]domain.Notice, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Notices(), nil
}

func (s *Service) SaveNow(ctx context.Context) (session.Status, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return session.Status{}, err
	}
	err = sess.SaveNow(ctx)
	return sess.Status(), err
}

func (s *Service) Refresh(ctx context.Context) (domain.Document, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	if err := sess.Refresh(ctx); err != nil {
		return domain.Document{}, err
	}
	return sess.State(), nil
}

func (s *Service) ApplyPending(ctx context.Context) (domain.Document, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	if err := sess.ApplyPending(); err != nil {
		return domain.Document{}, err
	}
	return sess.State(), nil
}

func (s *Service) RecordActivity(ctx context.Context, req domain.ActivityRequest) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	return sess.RecordActivity(req.Kind)
}

// ListProducts returns the caller's products, optionally only those at location.
func (s *Service) ListProducts(ctx context.Context, location domain.Location) ([]domain.Product, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return nil, err
	}
	if location != "" && !location.Valid() {
		return nil, fmt.Errorf("%w: unknown location %q", domain.ErrValidation, location)
	}

	var out []domain.Product
	sess.Read(func(doc domain.Document) {
		if location == "" {
			out = append([]domain.Product{}, doc.Products...)
			return
		}
		out = reducer.ProductsAt(doc, location)
	})
	return out, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	return mutate(ctx, s, "create_product", touchProducts, func(doc *domain.Document, _ reducer.Env) (domain.Product, error) {
		return reducer.AddProduct(doc, req)
	})
}

func (s *Service) UpdateProduct(ctx context.Context, productID int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	return mutate(ctx, s, "update_product", touchProducts, func(doc *domain.Document, _ reducer.Env) (domain.Product, error) {
		return reducer.UpdateProduct(doc, productID, req)
	})
}

func (s *Service) DeleteProduct(ctx context.Context, productID int64) error {
	_, err := mutate(ctx, s, "delete_product", touchProducts, func(doc *domain.Document, _ reducer.Env) (struct{}, error) {
		return struct{}{}, reducer.DeleteProduct(doc, productID)
	})
	return err
}

func (s *Service) RestockProduct(ctx context.Context, productID int64, req domain.RestockRequest) (domain.Product, error) {
	return mutate(ctx, s, "restock_product", touchProducts, func(doc *domain.Document, _ reducer.Env) (domain.Product, error) {
		return reducer.RestockProduct(doc, productID, req.Quantity)
	})
}

type TransferResult struct {
	Source domain.Product `json:"source"`
	Target domain.Product `json:"target"`
}

func (s *Service) TransferProduct(ctx context.Context, productID int64, req domain.TransferRequest) (TransferResult, error) {
	return mutate(ctx, s, "transfer_product", touchProducts, func(doc *domain.Document, _ reducer.Env) (TransferResult, error) {
		source, target, err := reducer.TransferProduct(doc, productID, req.Quantity, req.Destination)
		return TransferResult{Source: source, Target: target}, err
	})
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	return mutate(ctx, s, "record_sale", touchSale, func(doc *domain.Document, env reducer.Env) (domain.Sale, error) {
		return reducer.RecordSale(doc, env, req)
	})
}

func (s *Service) DeleteSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	return mutate(ctx, s, "delete_sale", touchSale, func(doc *domain.Document, env reducer.Env) (domain.Sale, error) {
		return reducer.DeleteSale(doc, env, saleID)
	})
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	return mutate(ctx, s, "create_client", touchClients, func(doc *domain.Document, _ reducer.Env) (domain.Client, error) {
		return reducer.AddClient(doc, req)
	})
}

func (s *Service) DeleteClient(ctx context.Context, clientID int64) error {
	_, err := mutate(ctx, s, "delete_client", touchClients, func(doc *domain.Document, _ reducer.Env) (struct{}, error) {
		return struct{}{}, reducer.DeleteClient(doc, clientID)
	})
	return err
}

func (s *Service) RecalculateClientTotals(ctx context.Context, clientID int64) (domain.Client, error) {
	return mutate(ctx, s, "recalculate_client", touchClients, func(doc *domain.Document, _ reducer.Env) (domain.Client, error) {
		return reducer.RecalculateClientTotals(doc, clientID)
	})
}

// RecalculateAllClientTotals repairs every client and reports how many changed.
func (s *Service) RecalculateAllClientTotals(ctx context.Context) (int, error) {
	return mutate(ctx, s, "recalculate_clients", touchClients, func(doc *domain.Document, _ reducer.Env) (int, error) {
		return reducer.RecalculateAllClientTotals(doc), nil
	})
}

func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	return mutate(ctx, s, "create_payment", touchPayments, func(doc *domain.Document, env reducer.Env) (domain.Payment, error) {
		return reducer.AddPayment(doc, env, req)
	})
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, paymentID int64, req domain.PaymentStatusRequest) (domain.Payment, error) {
	return mutate(ctx, s, "update_payment_status", touchPayments, func(doc *domain.Document, env reducer.Env) (domain.Payment, error) {
		return reducer.UpdatePaymentStatus(doc, env, paymentID, req.Status)
	})
}

func (s *Service) DeletePayment(ctx context.Context, paymentID int64) error {
	_, err := mutate(ctx, s, "delete_payment", touchPayments, func(doc *domain.Document, _ reducer.Env) (struct{}, error) {
		return struct{}{}, reducer.DeletePayment(doc, paymentID)
	})
	return err
}

func (s *Service) CreateExpiryItem(ctx context.Context, req domain.ExpiryCreateRequest) (domain.ExpiryItem, error) {
	return mutate(ctx, s, "create_expiry", touchExpiries, func(doc *domain.Document, _ reducer.Env) (domain.ExpiryItem, error) {
		return reducer.AddExpiryItem(doc, req)
	})
}

func (s *Service) DeleteExpiryItem(ctx context.Context, itemID int64) error {
	_, err := mutate(ctx, s, "delete_expiry", touchExpiries, func(doc *domain.Document, _ reducer.Env) (struct{}, error) {
		return struct{}{}, reducer.DeleteExpiryItem(doc, itemID)
	})
	return err
}

func (s *Service) OpenTicket(ctx context.Context, req domain.TicketRequest) (domain.SupportTicket, error) {
	return mutate(ctx, s, "open_ticket", touchTickets, func(doc *domain.Document, env reducer.Env) (domain.SupportTicket, error) {
		return reducer.OpenTicket(doc, env, req)
	})
}

func (s *Service) CloseTicket(ctx context.Context, ticketID string) (domain.SupportTicket, error) {
	return mutate(ctx, s, "close_ticket", touchTickets, func(doc *domain.Document, env reducer.Env) (domain.SupportTicket, error) {
		return reducer.CloseTicket(doc, env, ticketID)
	})
}

func (s *Service) DeleteTicket(ctx context.Context, ticketID string) error {
	_, err := mutate(ctx, s, "delete_ticket", touchTickets, func(doc *domain.Document, _ reducer.Env) (struct{}, error) {
		return struct{}{}, reducer.DeleteTicket(doc, ticketID)
	})
	return err
}

func (s *Service) SetCompany(ctx context.Context, company domain.Company) (domain.Company, error) {
	return mutate(ctx, s, "set_company", touchCompany, func(doc *domain.Document, _ reducer.Env) (domain.Company, error) {
		return reducer.SetCompany(doc, company)
	})
}

type Summary struct {
	InventoryValue   decimal.Decimal     `json:"inventory_value"`
	SalesTotal       decimal.Decimal     `json:"sales_total"`
	OutstandingTotal decimal.Decimal     `json:"outstanding_total"`
	LowStock         []domain.Product    `json:"low_stock"`
	ExpiringSoon     []domain.ExpiryItem `json:"expiring_soon"`
	Counts           domain.Counts       `json:"counts"`
}

// Summary is the dashboard read model over the caller's document.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	sess, err := s.Session(ctx)
	if err != nil {
		return Summary{}, err
	}

	var out Summary
	sess.Read(func(doc domain.Document) {
		out = Summary{
			InventoryValue:   reducer.InventoryValue(doc),
			SalesTotal:       reducer.SalesTotal(doc),
			OutstandingTotal: reducer.OutstandingTotal(doc),
			LowStock:         reducer.LowStockProducts(doc),
			ExpiringSoon:     reducer.ExpiringWithin(doc, s.opts.Clock.Now(), expiryWarningWindow),
			Counts:           doc.Counts(),
		}
	})
	return out, nil
}
