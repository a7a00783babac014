package infrastructure

import (
	"errors"
	"fmt"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// taskModel is the row layout of the tasks table. Nested values are kept
// as JSON text columns.
type taskModel struct {
	Tid         int64              `gorm:"column:tid;primaryKey;autoIncrement"`
	Bundle      string             `gorm:"index"`
	Saveas      string
	URL         string             `gorm:"column:url"`
	Data        string             `gorm:"type:text"`
	Title       string
	Description string
	Action      int                `gorm:"index"`
	Mode        int                `gorm:"index"`
	MimeType    string
	Progress    domain.Progress    `gorm:"type:text;serializer:json"`
	Ctime       int64              `gorm:"index"`
	Mtime       int64
	Faults      int
	Reason      string
	Code        int
	DownloadID  int64
	Token       string
	TaskStates  domain.TaskState   `gorm:"type:text;serializer:json"`
	Version     int
	Files       []domain.FileSpec  `gorm:"type:text;serializer:json"`
	Forms       []domain.FormItem  `gorm:"type:text;serializer:json"`
	Gauge       bool
	Retry       bool
	Tries       int
	WithSystem  bool
	Priority    int
	Extras      string             `gorm:"type:text"`

	// creation-time only
	Method        string
	Headers       map[string]string `gorm:"type:text;serializer:json"`
	Proxy         string
	Network       int
	Metered       bool
	Roaming       bool
	Redirect      bool
	Overwrite     bool
	Precise       bool
	Background    bool
	IndexNo       int64    `gorm:"column:index_no"`
	Begins        int64
	Ends          int64
	BodyFds       []int32  `gorm:"type:text;serializer:json"`
	BodyFileNames []string `gorm:"type:text;serializer:json"`
}

func (taskModel) TableName() string {
	return "tasks"
}

// mutableColumns are rewritten by Update
var mutableColumns = []string{
	"saveas", "url", "data", "title", "description", "action", "mode", "mime_type",
	"progress", "mtime", "faults", "reason", "code", "download_id", "task_states",
	"version", "files", "forms", "gauge", "retry", "tries", "with_system", "priority", "extras",
}

// SQLiteTaskRepository implements domain.TaskRepository using SQLite
type SQLiteTaskRepository struct {
	db     *gorm.DB
	bundle string
	now    func() time.Time
}

// NewSQLiteTaskRepository opens (and migrates) the task database. Tasks
// inserted through it are owned by bundle.
func NewSQLiteTaskRepository(dbPath, bundle string) (*SQLiteTaskRepository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&taskModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteTaskRepository{db: db, bundle: bundle, now: time.Now}, nil
}

// Insert stores a new task built from config
func (r *SQLiteTaskRepository) Insert(config *domain.TaskConfig) (int64, error) {
	now := r.now().UnixMilli()
	m := &taskModel{
		Bundle:        r.bundle,
		Saveas:        config.Saveas,
		URL:           config.URL,
		Data:          config.Data,
		Title:         config.Title,
		Description:   config.Description,
		Action:        int(config.Action),
		Mode:          int(config.Mode),
		Progress:      domain.Progress{State: domain.StateInitialized, Sizes: []int64{}},
		Ctime:         now,
		Mtime:         now,
		Faults:        int(domain.FaultsOthers),
		Token:         config.Token,
		Version:       int(config.Version),
		Files:         config.Files,
		Forms:         config.Forms,
		Gauge:         config.Gauge,
		Retry:         config.Retry,
		Priority:      config.Priority,
		Extras:        config.Extras,
		Method:        config.Method,
		Headers:       config.Headers,
		Proxy:         config.Proxy,
		Network:       int(config.Network),
		Metered:       config.Metered,
		Roaming:       config.Roaming,
		Redirect:      config.Redirect,
		Overwrite:     config.Overwrite,
		Precise:       config.Precise,
		Background:    config.Background,
		IndexNo:       config.Index,
		Begins:        config.Begins,
		Ends:          config.Ends,
		BodyFds:       config.BodyFds,
		BodyFileNames: config.BodyFileNames,
	}
	m.Reason = domain.ReasonOK.String()

	if err := r.db.Create(m).Error; err != nil {
		return 0, fmt.Errorf("failed to insert task: %w", err)
	}
	return m.Tid, nil
}

func (r *SQLiteTaskRepository) first(query interface{}, args ...interface{}) (*taskModel, error) {
	var m taskModel
	err := r.db.Where(query, args...).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return &m, nil
}

// QueryConfig returns the creation-time config of a task
func (r *SQLiteTaskRepository) QueryConfig(taskID int64) (*domain.TaskConfig, error) {
	m, err := r.first("tid = ?", taskID)
	if err != nil {
		return nil, err
	}
	return m.toConfig(), nil
}

// Query returns the task record
func (r *SQLiteTaskRepository) Query(taskID int64) (*domain.Task, error) {
	m, err := r.first("tid = ?", taskID)
	if err != nil {
		return nil, err
	}
	return m.toTask(), nil
}

// QueryByToken returns the task when both id and token match
func (r *SQLiteTaskRepository) QueryByToken(taskID int64, token string) (*domain.Task, error) {
	m, err := r.first("tid = ? AND token = ?", taskID, token)
	if err != nil {
		return nil, err
	}
	return m.toTask(), nil
}

// QueryAll returns every task record
func (r *SQLiteTaskRepository) QueryAll() ([]*domain.Task, error) {
	var models []taskModel
	if err := r.db.Order("tid ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(models))
	for i := range models {
		tasks = append(tasks, models[i].toTask())
	}
	return tasks, nil
}

// QueryByFilter returns the ids of the tasks matching filter. The state is
// part of the progress column, so it is matched after loading.
func (r *SQLiteTaskRepository) QueryByFilter(filter domain.Filter) ([]int64, error) {
	query := r.db.Model(&taskModel{}).Select("tid", "progress")

	if filter.Bundle != "" {
		query = query.Where("bundle = ?", filter.Bundle)
	}
	if filter.Before > 0 {
		query = query.Where("ctime < ?", filter.Before)
	}
	if filter.After > 0 {
		query = query.Where("ctime > ?", filter.After)
	}
	if filter.HasAction() {
		query = query.Where("action = ?", int(filter.Action))
	}
	if filter.HasMode() {
		query = query.Where("mode = ?", int(filter.Mode))
	}

	var models []taskModel
	if err := query.Order("tid ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to search tasks: %w", err)
	}

	ids := make([]int64, 0, len(models))
	for _, m := range models {
		if filter.HasState() && m.Progress.State != filter.State {
			continue
		}
		ids = append(ids, m.Tid)
	}
	return ids, nil
}

// Update overwrites the mutable columns of a task
func (r *SQLiteTaskRepository) Update(task *domain.Task, persistToken bool) error {
	m := fromTask(task)
	m.Mtime = r.now().UnixMilli()

	columns := mutableColumns
	if persistToken {
		columns = append(append([]string(nil), mutableColumns...), "token")
	}

	result := r.db.Model(&taskModel{}).Where("tid = ?", task.Tid).Select(columns).Updates(m)
	if result.Error != nil {
		return fmt.Errorf("failed to update task %d: %w", task.Tid, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrTaskNotFound
	}
	task.Mtime = m.Mtime
	return nil
}

// Delete removes a task record
func (r *SQLiteTaskRepository) Delete(taskID int64) error {
	result := r.db.Delete(&taskModel{}, "tid = ?", taskID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete task %d: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// Close closes the database connection
func (r *SQLiteTaskRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *taskModel) toTask() *domain.Task {
	return &domain.Task{
		Tid:         m.Tid,
		Bundle:      m.Bundle,
		Saveas:      m.Saveas,
		URL:         m.URL,
		Data:        m.Data,
		Title:       m.Title,
		Description: m.Description,
		Action:      domain.Action(m.Action),
		Mode:        domain.Mode(m.Mode),
		MimeType:    m.MimeType,
		Progress:    m.Progress,
		Ctime:       m.Ctime,
		Mtime:       m.Mtime,
		Faults:      domain.Faults(m.Faults),
		Reason:      m.Reason,
		Code:        domain.ReasonCode(m.Code),
		DownloadID:  m.DownloadID,
		Token:       m.Token,
		TaskStates:  m.TaskStates,
		Version:     domain.Version(m.Version),
		Files:       m.Files,
		Forms:       m.Forms,
		Gauge:       m.Gauge,
		Retry:       m.Retry,
		Tries:       m.Tries,
		WithSystem:  m.WithSystem,
		Priority:    m.Priority,
		Extras:      m.Extras,
	}
}

func (m *taskModel) toConfig() *domain.TaskConfig {
	return &domain.TaskConfig{
		Action:        domain.Action(m.Action),
		URL:           m.URL,
		Title:         m.Title,
		Description:   m.Description,
		Mode:          domain.Mode(m.Mode),
		Overwrite:     m.Overwrite,
		Method:        m.Method,
		Headers:       m.Headers,
		Data:          m.Data,
		Saveas:        m.Saveas,
		Proxy:         m.Proxy,
		Network:       domain.Network(m.Network),
		Metered:       m.Metered,
		Roaming:       m.Roaming,
		Redirect:      m.Redirect,
		Index:         m.IndexNo,
		Begins:        m.Begins,
		Ends:          m.Ends,
		Gauge:         m.Gauge,
		Precise:       m.Precise,
		Token:         m.Token,
		Extras:        m.Extras,
		Priority:      m.Priority,
		Retry:         m.Retry,
		Background:    m.Background,
		Forms:         m.Forms,
		Files:         m.Files,
		BodyFds:       m.BodyFds,
		BodyFileNames: m.BodyFileNames,
		Version:       domain.Version(m.Version),
	}
}

func fromTask(t *domain.Task) *taskModel {
	return &taskModel{
		Tid:         t.Tid,
		Bundle:      t.Bundle,
		Saveas:      t.Saveas,
		URL:         t.URL,
		Data:        t.Data,
		Title:       t.Title,
		Description: t.Description,
		Action:      int(t.Action),
		Mode:        int(t.Mode),
		MimeType:    t.MimeType,
		Progress:    t.Progress,
		Ctime:       t.Ctime,
		Mtime:       t.Mtime,
		Faults:      int(t.Faults),
		Reason:      t.Reason,
		Code:        int(t.Code),
		DownloadID:  t.DownloadID,
		Token:       t.Token,
		TaskStates:  t.TaskStates,
		Version:     int(t.Version),
		Files:       t.Files,
		Forms:       t.Forms,
		Gauge:       t.Gauge,
		Retry:       t.Retry,
		Tries:       t.Tries,
		WithSystem:  t.WithSystem,
		Priority:    t.Priority,
		Extras:      t.Extras,
	}
}
