package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// latestConsentBefore is the most recent consent event for a contact strictly before a timestamp.
const latestConsentBefore = `
    SELECT e.granted FROM consent_events e
    WHERE e.contact_id = m.contact_id AND e.changed_at < %s
    ORDER BY e.changed_at DESC, e.id DESC LIMIT 1`

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_message_per_reminder",
			SQL: `SELECT reminder_id, COUNT(*) FROM outbound_messages
                  WHERE reminder_id IS NOT NULL
                  GROUP BY reminder_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_sent_reminder_has_message",
			SQL: `SELECT r.id FROM reminders r
                  WHERE r.status = 'sent'
                    AND NOT EXISTS (SELECT 1 FROM outbound_messages m WHERE m.reminder_id = r.id)`,
		},
		{
			Name: "O3_no_reminder_after_filing",
			SQL: `SELECT r.id, r.sent_at, d.filed_at FROM reminders r
                  JOIN deadlines d ON d.id = r.deadline_id
                  WHERE d.filed_at IS NOT NULL
                    AND (r.status = 'pending' OR (r.status = 'sent' AND r.sent_at > d.filed_at))`,
		},
		{
			Name: "O4_no_message_queued_while_opted_out",
			SQL: `SELECT m.id, m.created_at FROM outbound_messages m
                  WHERE (` + fmt.Sprintf(latestConsentBefore, "m.created_at") + `) = false`,
		},
		{
			Name: "O5_no_message_sent_while_opted_out",
			SQL: `SELECT m.id, m.sent_at FROM outbound_messages m
                  WHERE m.sent_at IS NOT NULL
                    AND (` + fmt.Sprintf(latestConsentBefore, "m.sent_at") + `) = false`,
		},
		{
			Name: "O6_consent_matches_audit_trail",
			SQL: `SELECT c.id, c.consent_granted, e.granted FROM contacts c
                  JOIN LATERAL (
                      SELECT granted FROM consent_events
                      WHERE contact_id = c.id
                      ORDER BY changed_at DESC, id DESC LIMIT 1
                  ) e ON true
                  WHERE e.granted <> c.consent_granted`,
		},
		{
			Name: "O7_no_stale_claims",
			SQL: `SELECT id::text FROM reminders
                  WHERE status = 'pending' AND claimed_at < now() - interval '5 minutes'
                  UNION ALL
                  SELECT id::text FROM outbound_messages
                  WHERE status = 'queued' AND claimed_at < now() - interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
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
