package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/chatflow/types"
	"github.com/BaSui01/chatflow/workflow"
)

// DefaultTableName is the table used when none is configured.
const DefaultTableName = "chatflow_runs"

// runRow is the table layout of a record. JSON columns are stored as text
// so the same schema works on postgres, mysql and sqlite.
type runRow struct {
	RunID      string    `gorm:"primaryKey;size:64"`
	Workflow   string    `gorm:"size:255;index"`
	Status     string    `gorm:"size:16;index"`
	Messages   string    `gorm:"type:text"`
	Inputs     string    `gorm:"type:text"`
	Data       string    `gorm:"type:text"`
	Error      string    `gorm:"type:text"`
	Steps      int
	StartedAt  time.Time
	FinishedAt time.Time `gorm:"index"`
}

func toRow(runID string, rec *workflow.Record) (*runRow, error) {
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inputs: %w", err)
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return &runRow{
		RunID:      runID,
		Workflow:   rec.Workflow,
		Status:     rec.Status,
		Messages:   string(messages),
		Inputs:     string(inputs),
		Data:       string(data),
		Error:      rec.Error,
		Steps:      rec.Steps,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}, nil
}

func (r *runRow) record() (*workflow.Record, error) {
	rec := &workflow.Record{
		RunID:      r.RunID,
		Workflow:   r.Workflow,
		Status:     r.Status,
		Error:      r.Error,
		Steps:      r.Steps,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	var messages []types.Message
	if err := json.Unmarshal([]byte(r.Messages), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages of %s: %w", r.RunID, err)
	}
	rec.Messages = messages
	if err := json.Unmarshal([]byte(r.Inputs), &rec.Inputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inputs of %s: %w", r.RunID, err)
	}
	if err := json.Unmarshal([]byte(r.Data), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data of %s: %w", r.RunID, err)
	}
	return rec, nil
}

// SQLStore stores records in a gorm-managed table.
type SQLStore struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewSQLStore migrates the table and returns a store. An empty table name
// selects DefaultTableName.
func NewSQLStore(ctx context.Context, db *gorm.DB, table string, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = DefaultTableName
	}
	s := &SQLStore{
		db:     db,
		table:  table,
		logger: logger.With(zap.String("component", "sql_chat_store")),
	}
	if err := s.query(ctx).AutoMigrate(&runRow{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", table, err)
	}
	return s, nil
}

func (s *SQLStore) query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Save implements workflow.Recorder. Saving an existing run id replaces it.
func (s *SQLStore) Save(ctx context.Context, runID string, rec *workflow.Record) error {
	if err := validate(runID, rec); err != nil {
		return err
	}
	row, err := toRow(runID, rec)
	if err != nil {
		return err
	}
	err = s.query(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	s.logger.Debug("run record saved", zap.String("run_id", runID))
	return nil
}

// Get implements ChatStore.Get.
func (s *SQLStore) Get(ctx context.Context, runID string) (*workflow.Record, error) {
	var row runRow
	err := s.query(ctx).Where("run_id = ?", runID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return row.record()
}

// List implements ChatStore.List.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*workflow.Record, error) {
	q := s.query(ctx)
	if opts.Workflow != "" {
		q = q.Where("workflow = ?", opts.Workflow)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}

	var rows []runRow
	if err := q.Order("finished_at DESC").Limit(opts.limit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*workflow.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op: the caller owns the *gorm.DB.
func (s *SQLStore) Close() error {
	return nil
}
