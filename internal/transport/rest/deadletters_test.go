package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/taskflow-backend/internal/domain"
)

func TestListDeadLetters_Filter(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	taskID := uuid.New()

	var got domain.DeadLetterFilter
	api.ingest.ListDeadLettersFunc = func(_ context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
		got = f
		return []domain.DeadLetterEntry{{
			ID: uuid.New(), TaskID: taskID, Reason: domain.DeadLetterUnknownTask,
			Payload: []byte(`{"items":[]}`), FailureReason: "task vanished",
		}}, nil
	}

	rec := api.do(http.MethodGet, "/dead-letters?task_id="+taskID.String()+"&reason=unknown_task&limit=10", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if got.TaskID == nil || *got.TaskID != taskID || got.Reason == nil || *got.Reason != domain.DeadLetterUnknownTask || got.Limit != 10 {
		t.Errorf("filter: got %+v", got)
	}
	resp := decodeBody[listResponse[deadLetterResponse]](t, rec)
	if len(resp.Items) != 1 || string(resp.Items[0].Payload) != `{"items":[]}` {
		t.Errorf("items: got %+v", resp.Items)
	}
}

func TestListDeadLetters_DefaultPage(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	var got domain.DeadLetterFilter
	api.ingest.ListDeadLettersFunc = func(_ context.Context, f domain.DeadLetterFilter) ([]domain.DeadLetterEntry, error) {
		got = f
		return nil, nil
	}

	rec := api.do(http.MethodGet, "/dead-letters", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if got.Limit != domain.DefaultListLimit {
		t.Errorf("limit: got %d, want %d", got.Limit, domain.DefaultListLimit)
	}
	if body := rec.Body.String(); body != "{\"items\":[],\"limit\":50}\n" {
		t.Errorf("body: got %q", body)
	}
}

func TestListDeadLetters_UnknownReason(t *testing.T) {
	t.Parallel()
	api := newTestAPI()

	if rec := api.do(http.MethodGet, "/dead-letters?reason=cosmic_rays", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestReplayDeadLetter(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	queueID, taskID := uuid.New(), uuid.New()
	api.ingest.ReplayFunc = func(_ context.Context, id uuid.UUID) (domain.TaskResultRow, error) {
		return domain.TaskResultRow{ID: queueID, TaskID: taskID}, nil
	}

	rec := api.do(http.MethodPost, "/dead-letters/"+uuid.NewString()+"/replay", "", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	resp := decodeBody[replayResponse](t, rec)
	if resp.QueueID != queueID || resp.TaskID != taskID {
		t.Errorf("response: got %+v", resp)
	}
}

func TestQueueStats(t *testing.T) {
	t.Parallel()
	api := newTestAPI()
	api.ingest.StatsFunc = func(context.Context) (domain.QueueStats, error) {
		return domain.QueueStats{Pending: 4, Retrying: 1, OldestAge: 90 * time.Second, DeadLetters: 2}, nil
	}

	rec := api.do(http.MethodGet, "/queue/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	resp := decodeBody[queueStatsResponse](t, rec)
	if resp.Pending != 4 || resp.OldestAgeSeconds != 90 || resp.DeadLetters != 2 {
		t.Errorf("stats: got %+v", resp)
	}
}
