package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptcraft/internal/models"
)

const (
	TypeTestSessionRecord = "test_session:record"
	TypeUsageRecord       = "usage:record"
)

const (
	QueueDefault = "default"
	QueueLow     = "low"
)

func NewTestSessionTask(sess *models.TestSession) (*asynq.Task, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal test session: %w", err)
	}
	return asynq.NewTask(TypeTestSessionRecord, data), nil
}

func NewUsageTask(record models.LLMUsageLog) (*asynq.Task, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal usage record: %w", err)
	}
	return asynq.NewTask(TypeUsageRecord, data), nil
}
