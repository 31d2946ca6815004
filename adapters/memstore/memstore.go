// Package memstore provides an in-memory sor.RequestStore used in tests and
// single-process installs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/mindworx/sor"
)

type options struct {
	clock clock.Clock
}

type Option func(o *options)

// WithClock overrides the default real clock, for tests that need to control
// updated_at and overdue detection.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func New(opts ...Option) *Store {
	opt := options{
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		requests: make(map[int64]*sor.Request),
		audit:    make(map[int64][]sor.AuditEntry),
		clock:    opt.clock,
	}
}

var _ sor.RequestStore = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	clock clock.Clock

	idIncrement      int64
	auditIDIncrement int64

	requests map[int64]*sor.Request
	audit    map[int64][]sor.AuditEntry
}

func (s *Store) Create(ctx context.Context, req *sor.Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idIncrement++

	cp := *req
	cp.ID = s.idIncrement
	cp.Status = sor.StatusPending
	now := s.clock.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	s.requests[cp.ID] = &cp

	return cp.ID, nil
}

func (s *Store) Update(ctx context.Context, id int64, updates sor.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return sor.ErrRecordNotFound
	}

	for field, value := range updates {
		switch field {
		case sor.FieldStatus:
			str, ok := value.(string)
			if !ok {
				return invalidField(field)
			}
			status, err := sor.ParseStatus(str)
			if err != nil {
				return err
			}
			req.Status = status
		case sor.FieldOverallScore:
			score, ok := value.(float64)
			if !ok {
				return invalidField(field)
			}
			req.OverallScore = &score
		case sor.FieldErrorMessage:
			str, ok := value.(string)
			if !ok {
				return invalidField(field)
			}
			req.ErrorMessage = str
		case sor.FieldDocumentPath:
			str, ok := value.(string)
			if !ok {
				return invalidField(field)
			}
			req.DocumentPath = str
		case sor.FieldSignedDocumentPath:
			str, ok := value.(string)
			if !ok {
				return invalidField(field)
			}
			req.SignedDocumentPath = str
		case sor.FieldSignatureRef:
			str, ok := value.(string)
			if !ok {
				return invalidField(field)
			}
			req.SignatureRef = str
		case sor.FieldSignatureSentAt:
			at, ok := value.(time.Time)
			if !ok {
				return invalidField(field)
			}
			req.SignatureSentAt = &at
		default:
			return errors.Wrap(sor.ErrPersistence, "unknown update field", j.KV("field", field))
		}
	}

	req.UpdatedAt = s.clock.Now()

	return nil
}

func invalidField(field string) error {
	return errors.Wrap(sor.ErrPersistence, "invalid update value type", j.KV("field", field))
}

func (s *Store) Lookup(ctx context.Context, id int64) (*sor.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, sor.ErrRecordNotFound
	}

	// Return a copy so modifications don't affect the store.
	cp := *req
	return &cp, nil
}

func (s *Store) List(ctx context.Context, filter sor.ListFilter) ([]sor.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sor.Request
	for _, req := range s.requests {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}

		out = append(out, *req)
	}

	// Most recently updated first; newest ID breaks ties.
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *Store) AppendAudit(ctx context.Context, requestID int64, action, detail string, outcome sor.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditIDIncrement++
	s.audit[requestID] = append(s.audit[requestID], sor.AuditEntry{
		ID:        s.auditIDIncrement,
		RequestID: requestID,
		Action:    action,
		Detail:    detail,
		Outcome:   outcome,
		CreatedAt: s.clock.Now(),
	})

	return nil
}

func (s *Store) ListAudit(ctx context.Context, requestID int64, limit int) ([]sor.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.audit[requestID]

	out := make([]sor.AuditEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	return out, nil
}

func (s *Store) Stats(ctx context.Context, overdueAfter time.Duration) (sor.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	var stats sor.Stats
	for _, req := range s.requests {
		stats.Total++

		switch req.Status {
		case sor.StatusPending:
			stats.Pending++
		case sor.StatusPDFGenerated:
			stats.PDFGenerated++
		case sor.StatusSignatureSent:
			stats.SignatureSent++
		case sor.StatusSigned:
			stats.Signed++
		case sor.StatusUploaded:
			stats.Uploaded++
		case sor.StatusFailed:
			stats.Failed++
		}

		if req.Status == sor.StatusSignatureSent &&
			req.SignatureSentAt != nil &&
			now.Sub(*req.SignatureSentAt) > overdueAfter {
			stats.Overdue++
		}

		if now.Sub(req.CreatedAt) < 24*time.Hour {
			stats.Recent++
		}
	}

	return stats, nil
}
