package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/agreement"
)

// Repository persists disputes, their signatures and chat messages.
//
// Update is a compare-and-swap on Dispute.Revision: it fails with ErrStale when
// another writer committed first, and it never touches the AI output columns,
// which only SaveSuggestions writes.
type Repository interface {
	Create(ctx context.Context, d Dispute) (Dispute, error)
	Get(ctx context.Context, id string) (Dispute, error)
	Update(ctx context.Context, d Dispute, appended []agreement.SignatureRecord) (Dispute, error)
	Delete(ctx context.Context, id string, revision int64) error
	List(ctx context.Context, filter Filter) ([]Dispute, error)
	CountByStatus(ctx context.Context, filter Filter) (map[Status]int, error)
	SaveSuggestions(ctx context.Context, id, analysis string, suggestions []Suggestion) error
	AddMessage(ctx context.Context, msg Message, limit int) (Message, error)
	ListMessages(ctx context.Context, disputeID string) ([]Message, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, plaintiff_user_id, creator_email, defendant_email, defendant_user_id,
	title, description, category, evidence_text, amount_disputed, status,
	resolution_text, plaintiff_agreed, defendant_agreed, plaintiff_escalated, defendant_escalated,
	plaintiff_escalation_reason, defendant_escalation_reason,
	agreement_document_version, agreement_document_hash, ai_analysis, ai_suggestions,
	admin_id, admin_notes, dropped_by, revision,
	created_at, updated_at, accepted_at, rejected_at, dropped_at, escalated_at,
	pending_approval_since, resolved_at`

const signatureColumns = `id, dispute_id, party_role, user_id, email, signature_type, typed_name,
	signature_image_data, document_hash, version, signed_at, ip_address, user_agent`

func (r *PGRepository) Create(ctx context.Context, d Dispute) (Dispute, error) {
	const query = `
		INSERT INTO disputes (id, plaintiff_user_id, creator_email, defendant_email, defendant_user_id,
			title, description, category, evidence_text, amount_disputed, status,
			agreement_document_version, agreement_document_hash)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + disputeColumns

	created, err := scanDispute(r.pool.QueryRow(ctx, query,
		d.ID,
		d.PlaintiffUserID,
		d.CreatorEmail,
		d.DefendantEmail,
		d.DefendantUserID,
		d.Title,
		d.Description,
		d.Category,
		d.EvidenceText,
		d.AmountDisputed,
		d.Status,
		d.Agreement.Version,
		d.Agreement.Hash,
	))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return created, nil
}

// validID reports whether id can name a row; anything else cannot exist.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Dispute, error) {
	if !validID(id) {
		return Dispute{}, ErrNotFound
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	d, err := scanDispute(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}

	sigs, err := r.signatures(ctx, []string{d.ID})
	if err != nil {
		return Dispute{}, err
	}
	d.Agreement.Signatures = sigs[d.ID]
	return d, nil
}

func (r *PGRepository) Update(ctx context.Context, d Dispute, appended []agreement.SignatureRecord) (Dispute, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE disputes SET
			defendant_user_id = $3,
			status = $4,
			resolution_text = $5,
			plaintiff_agreed = $6,
			defendant_agreed = $7,
			plaintiff_escalated = $8,
			defendant_escalated = $9,
			plaintiff_escalation_reason = $10,
			defendant_escalation_reason = $11,
			agreement_document_version = $12,
			agreement_document_hash = $13,
			admin_id = $14,
			admin_notes = $15,
			dropped_by = $16,
			accepted_at = $17,
			rejected_at = $18,
			dropped_at = $19,
			escalated_at = $20,
			pending_approval_since = $21,
			resolved_at = $22,
			revision = revision + 1,
			updated_at = NOW()
		WHERE id = $1 AND revision = $2
		RETURNING ` + disputeColumns

	var droppedBy *string
	if d.DroppedBy != nil {
		v := string(*d.DroppedBy)
		droppedBy = &v
	}

	updated, err := scanDispute(tx.QueryRow(ctx, query,
		d.ID,
		d.Revision,
		d.DefendantUserID,
		d.Status,
		d.ResolutionText,
		d.PlaintiffAgreed,
		d.DefendantAgreed,
		d.PlaintiffEscalated,
		d.DefendantEscalated,
		d.PlaintiffEscalationReason,
		d.DefendantEscalationReason,
		d.Agreement.Version,
		d.Agreement.Hash,
		d.AdminID,
		d.AdminNotes,
		droppedBy,
		d.AcceptedAt,
		d.RejectedAt,
		d.DroppedAt,
		d.EscalatedAt,
		d.PendingApprovalSince,
		d.ResolvedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, r.missOrStale(ctx, tx, d.ID)
		}
		return Dispute{}, fmt.Errorf("dispute: update: %w", err)
	}

	for _, sig := range appended {
		if err := insertSignature(ctx, tx, d.ID, sig); err != nil {
			return Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit update: %w", err)
	}

	updated.Agreement.Signatures = d.Agreement.Clone().Signatures
	return updated, nil
}

func (r *PGRepository) missOrStale(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("dispute: check existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}

func insertSignature(ctx context.Context, tx pgx.Tx, disputeID string, sig agreement.SignatureRecord) error {
	const query = `
		INSERT INTO dispute_signatures (` + signatureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := tx.Exec(ctx, query,
		sig.ID,
		disputeID,
		string(sig.PartyRole),
		sig.UserID,
		sig.Email,
		string(sig.SignatureType),
		sig.TypedName,
		sig.SignatureImageData,
		sig.DocumentHash,
		sig.Version,
		sig.SignedAt,
		sig.IPAddress,
		sig.UserAgent,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrStale
		}
		return fmt.Errorf("dispute: insert signature: %w", err)
	}
	return nil
}

// Delete removes a dispute if it is still at revision.
func (r *PGRepository) Delete(ctx context.Context, id string, revision int64) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM disputes WHERE id = $1 AND revision = $2`, id, revision)
	if err != nil {
		return fmt.Errorf("dispute: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM disputes WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("dispute: check existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Dispute, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + disputeColumns + ` FROM disputes` + where + ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	ids := make([]string, 0, 8)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}

	if len(ids) == 0 {
		return out, nil
	}
	sigs, err := r.signatures(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Agreement.Signatures = sigs[out[i].ID]
	}
	return out, nil
}

func (r *PGRepository) CountByStatus(ctx context.Context, filter Filter) (map[Status]int, error) {
	where, args := filterClause(filter)
	query := `SELECT status, COUNT(*) FROM disputes` + where + ` GROUP BY status`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: count: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int, len(AllStatuses))
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("dispute: scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate counts: %w", err)
	}
	return counts, nil
}

// SaveSuggestions overwrites the AI output columns only. It does not bump the
// revision so a generation never invalidates an in-flight party action.
func (r *PGRepository) SaveSuggestions(ctx context.Context, id, analysis string, suggestions []Suggestion) error {
	if !validID(id) {
		return ErrNotFound
	}
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE disputes SET ai_analysis = $2, ai_suggestions = $3, updated_at = NOW()
		WHERE id = $1
	`, id, analysis, suggestions)
	if err != nil {
		return fmt.Errorf("dispute: save suggestions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage appends a chat message unless the dispute already holds limit
// messages. The dispute row is locked so concurrent posts cannot overshoot.
func (r *PGRepository) AddMessage(ctx context.Context, msg Message, limit int) (Message, error) {
	if !validID(msg.DisputeID) {
		return Message{}, ErrNotFound
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Message{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM disputes WHERE id = $1 FOR UPDATE`, msg.DisputeID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("dispute: lock for message: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM dispute_messages WHERE dispute_id = $1`, msg.DisputeID).Scan(&count); err != nil {
		return Message{}, fmt.Errorf("dispute: count messages: %w", err)
	}
	if limit > 0 && count >= limit {
		return Message{}, fmt.Errorf("%w: message limit of %d reached", ErrInvalidState, limit)
	}

	const insertSQL = `
		INSERT INTO dispute_messages (id, dispute_id, sender_id, sender_email, sender_role, content)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6)
		RETURNING id, dispute_id, sender_id, sender_email, sender_role, content, created_at
	`
	var out Message
	var role string
	err = tx.QueryRow(ctx, insertSQL, msg.ID, msg.DisputeID, msg.SenderID, msg.SenderEmail, string(msg.SenderRole), msg.Content).
		Scan(&out.ID, &out.DisputeID, &out.SenderID, &out.SenderEmail, &role, &out.Content, &out.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("dispute: insert message: %w", err)
	}
	out.SenderRole = agreement.PartyRole(role)

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("dispute: commit message: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListMessages(ctx context.Context, disputeID string) ([]Message, error) {
	if !validID(disputeID) {
		return []Message{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, dispute_id, sender_id, sender_email, sender_role, content, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC
	`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.SenderID, &m.SenderEmail, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan message: %w", err)
		}
		m.SenderRole = agreement.PartyRole(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate messages: %w", err)
	}
	return out, nil
}

func (r *PGRepository) signatures(ctx context.Context, disputeIDs []string) (map[string][]agreement.SignatureRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+signatureColumns+`
		FROM dispute_signatures
		WHERE dispute_id = ANY($1::uuid[])
		ORDER BY version ASC, signed_at ASC
	`, disputeIDs)
	if err != nil {
		return nil, fmt.Errorf("dispute: list signatures: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]agreement.SignatureRecord, len(disputeIDs))
	for rows.Next() {
		var (
			sig       agreement.SignatureRecord
			disputeID string
			role      string
			sigType   string
		)
		if err := rows.Scan(
			&sig.ID,
			&disputeID,
			&role,
			&sig.UserID,
			&sig.Email,
			&sigType,
			&sig.TypedName,
			&sig.SignatureImageData,
			&sig.DocumentHash,
			&sig.Version,
			&sig.SignedAt,
			&sig.IPAddress,
			&sig.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("dispute: scan signature: %w", err)
		}
		sig.PartyRole = agreement.PartyRole(role)
		sig.SignatureType = agreement.SignatureType(sigType)
		out[disputeID] = append(out[disputeID], sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate signatures: %w", err)
	}
	return out, nil
}

func filterClause(filter Filter) (string, []any) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.PlaintiffUserID != "" {
		args = append(args, filter.PlaintiffUserID)
		where = append(where, fmt.Sprintf("plaintiff_user_id = $%d", len(args)))
	}
	if filter.DefendantEmail != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(filter.DefendantEmail)))
		where = append(where, fmt.Sprintf("defendant_email = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d         Dispute
		droppedBy *string
	)
	err := row.Scan(
		&d.ID,
		&d.PlaintiffUserID,
		&d.CreatorEmail,
		&d.DefendantEmail,
		&d.DefendantUserID,
		&d.Title,
		&d.Description,
		&d.Category,
		&d.EvidenceText,
		&d.AmountDisputed,
		&d.Status,
		&d.ResolutionText,
		&d.PlaintiffAgreed,
		&d.DefendantAgreed,
		&d.PlaintiffEscalated,
		&d.DefendantEscalated,
		&d.PlaintiffEscalationReason,
		&d.DefendantEscalationReason,
		&d.Agreement.Version,
		&d.Agreement.Hash,
		&d.AIAnalysis,
		&d.AISuggestions,
		&d.AdminID,
		&d.AdminNotes,
		&droppedBy,
		&d.Revision,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.AcceptedAt,
		&d.RejectedAt,
		&d.DroppedAt,
		&d.EscalatedAt,
		&d.PendingApprovalSince,
		&d.ResolvedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	if droppedBy != nil {
		role := agreement.PartyRole(*droppedBy)
		d.DroppedBy = &role
	}
	return d, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
