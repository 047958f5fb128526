package outcome

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "SonicPilot/internal/errors"
)

// Kind 表示终态类型。
type Kind string

const (
	KindSuccess   Kind = "success"
	KindFailure   Kind = "failure"
	KindCancelled Kind = "cancelled"
)

// Event 描述一次向导的终态结果。
type Event struct {
	ID         string            `json:"id"`
	Flow       string            `json:"flow"`
	Kind       Kind              `json:"kind"`
	Step       string            `json:"step"`
	SessionKey string            `json:"session_key"`
	UserID     string            `json:"user_id"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
	OccurredAt int64             `json:"occurred_at"`
}

// NewEvent 分配事件 ID 并记录发生时间。
func NewEvent(flow string, kind Kind, step string, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		ID:         uuid.NewString(),
		Flow:       flow,
		Kind:       kind,
		Step:       step,
		OccurredAt: at.Unix(),
	}
}

// Handler 处理从队列取出的事件。
type Handler func(ctx context.Context, event Event) error

// Publisher 负责投递终态事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从队列中读取事件。
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力。
type Queue interface {
	Publisher
	Consumer
}

func encode(event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化事件失败")
	}
	return body, nil
}

func decode(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析事件失败")
	}
	return event, nil
}
