package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/riseup-agent/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (RISEUP_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) turnsCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection("turns")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID          string    `firestore:"user_id"`
	Title           string    `firestore:"title"`
	LastAffirmation string    `firestore:"last_affirmation_day,omitempty"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

type turnDoc struct {
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (d sessionDoc) toDomain(id domain.SessionID) *domain.Session {
	return &domain.Session{
		ID:        id,
		UserID:    domain.UserID(d.UserID),
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	doc := sessionDoc{
		UserID:    string(session.UserID),
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}

	if _, err := s.sessionDoc(session.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	updates := []firestore.Update{
		{Path: "user_id", Value: string(session.UserID)},
		{Path: "title", Value: session.Title},
		{Path: "updated_at", Value: session.UpdatedAt},
	}

	if _, err := s.sessionDoc(session.ID).Update(ctx, updates); err != nil {
		if notFound(err) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("firestore UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}
	return doc.toDomain(id), nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol().Where("user_id", "==", string(userID)).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListSessionsByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		out = append(out, doc.toDomain(domain.SessionID(snap.Ref.ID)))
	}
	return out, nil
}

// ─────────────────────────────────────────
// TurnStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendTurn(ctx context.Context, sessionID domain.SessionID, turn domain.Turn) error {
	doc := turnDoc{
		Role:      string(turn.Role),
		Text:      turn.Text,
		CreatedAt: turn.Timestamp,
	}

	if _, err := s.turnsCol(sessionID).Doc(string(turn.ID)).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendTurn: %w", err)
	}
	return nil
}

// ListTurns returns the session's turns in commit order. Turn IDs are
// time-ordered, so the document ID breaks timestamp ties.
func (s *Store) ListTurns(ctx context.Context, sessionID domain.SessionID) ([]domain.Turn, error) {
	iter := s.turnsCol(sessionID).
		OrderBy("created_at", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.Turn
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListTurns: %w", err)
		}

		var doc turnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode turnDoc: %w", err)
		}

		out = append(out, domain.Turn{
			ID:        domain.TurnID(snap.Ref.ID),
			Role:      domain.Role(doc.Role),
			Text:      doc.Text,
			Timestamp: doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) ClearTurns(ctx context.Context, sessionID domain.SessionID) error {
	refs, err := s.turnsCol(sessionID).DocumentRefs(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore ClearTurns list: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("firestore ClearTurns enqueue: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("firestore ClearTurns delete: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────
// AffirmationStore implementation
// ─────────────────────────────────────────

func (s *Store) LastAffirmationDay(ctx context.Context, sessionID domain.SessionID) (string, error) {
	snap, err := s.sessionDoc(sessionID).Get(ctx)
	if err != nil {
		if notFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("firestore LastAffirmationDay: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("decode sessionDoc: %w", err)
	}
	return doc.LastAffirmation, nil
}

func (s *Store) SetLastAffirmationDay(ctx context.Context, sessionID domain.SessionID, day string) error {
	_, err := s.sessionDoc(sessionID).Set(ctx, map[string]interface{}{
		"last_affirmation_day": day,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore SetLastAffirmationDay: %w", err)
	}
	return nil
}
