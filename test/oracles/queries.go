package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is an invariant expressed as a query that must return no rows.
type Oracle struct {
	Name string
	SQL  string
}

func All(messageLimit int) []Oracle {
	return []Oracle{
		{
			Name: "O1_signature_version_not_ahead",
			SQL: `SELECT s.dispute_id, s.party_role, s.version FROM dispute_signatures s
                  JOIN disputes d ON d.id = s.dispute_id
                  WHERE s.version > d.agreement_document_version`,
		},
		{
			Name: "O2_one_hash_per_version",
			SQL: `SELECT dispute_id, version FROM dispute_signatures
                  GROUP BY dispute_id, version HAVING COUNT(DISTINCT document_hash) > 1`,
		},
		{
			Name: "O3_agreed_flags_backed_by_ledger",
			SQL: `SELECT d.id FROM disputes d
                  WHERE (d.plaintiff_agreed AND NOT EXISTS (
                            SELECT 1 FROM dispute_signatures s WHERE s.dispute_id = d.id
                              AND s.party_role = 'plaintiff' AND s.version = d.agreement_document_version))
                     OR (d.defendant_agreed AND NOT EXISTS (
                            SELECT 1 FROM dispute_signatures s WHERE s.dispute_id = d.id
                              AND s.party_role = 'defendant' AND s.version = d.agreement_document_version))`,
		},
		{
			Name: "O4_pending_approval_has_consensus",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'PendingApproval'
                    AND (NOT d.plaintiff_agreed OR NOT d.defendant_agreed OR d.pending_approval_since IS NULL)`,
		},
		{
			Name: "O5_consensus_not_left_negotiating",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status IN ('Open', 'InProgress') AND d.plaintiff_agreed AND d.defendant_agreed`,
		},
		{
			Name: "O6_escalated_needs_both_parties",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'Escalated' AND NOT (d.plaintiff_escalated AND d.defendant_escalated)`,
		},
		{
			Name: "O7_message_limit",
			SQL: fmt.Sprintf(`SELECT dispute_id, COUNT(*) FROM dispute_messages
                  GROUP BY dispute_id HAVING COUNT(*) > %d`, messageLimit),
		},
		{
			Name: "O8_terminal_timestamps",
			SQL: `SELECT d.id, d.status FROM disputes d
                  WHERE (d.status = 'Resolved' AND d.resolved_at IS NULL)
                     OR (d.status = 'Rejected' AND d.rejected_at IS NULL)
                     OR (d.status = 'Dropped' AND (d.dropped_at IS NULL OR d.dropped_by IS NULL))
                     OR (d.status = 'Escalated' AND d.escalated_at IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool, messageLimit int) (string, string, error) {
	for _, o := range All(messageLimit) {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
