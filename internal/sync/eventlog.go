package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const TypeScoresSaved = "ScoresSaved"

type Event struct {
	Seq       int64  `json:"seq"`
	SiteID    string `json:"site_id"`
	Type      string `json:"type"`
	Key       string `json:"key"`
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

// ScoresSaved is the payload appended whenever a judge saves scores.
type ScoresSaved struct {
	ActivityID   string   `json:"activity_id"`
	JudgeID      string   `json:"judge_id"`
	EntityType   string   `json:"entity_type"`
	EntityID     string   `json:"entity_id"`
	OverallScore *float64 `json:"overall_score"`
}

func NewScoresSavedEvent(siteID string, p ScoresSaved) (Event, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		SiteID:   siteID,
		Type:     TypeScoresSaved,
		Key:      p.ActivityID + "/" + p.EntityType + "/" + p.EntityID,
		DataJSON: string(b),
	}, nil
}

type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = "local"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.SiteID, e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return err
}

// Since returns up to limit events with a sequence number greater than after,
// oldest first.
func (r *EventRepo) Since(ctx context.Context, after int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
