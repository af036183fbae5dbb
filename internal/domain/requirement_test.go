package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRequirementStatus_Satisfies(t *testing.T) {
	t.Parallel()

	all := []RequirementStatus{
		RequirementMissing, RequirementRequested, RequirementReceived, RequirementInQA,
		RequirementVerified, RequirementRejected, RequirementExpired, RequirementWaived,
	}
	ordinals := map[RequirementStatus]int{
		RequirementMissing:   0,
		RequirementRequested: 1,
		RequirementReceived:  2,
		RequirementInQA:      3,
		RequirementVerified:  4,
	}

	for _, cur := range all {
		for _, min := range all {
			var want bool
			switch cur {
			case RequirementRejected, RequirementExpired:
				want = false
			case RequirementVerified, RequirementWaived:
				want = true
			default:
				minOrd, ok := ordinals[min]
				want = ok && ordinals[cur] >= minOrd
			}
			if got := cur.Satisfies(min); got != want {
				t.Errorf("%s.Satisfies(%s): got %v, want %v", cur, min, got, want)
			}
		}
	}
}

func TestRequirementStatus_SatisfiesSpotChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cur, min RequirementStatus
		want     bool
	}{
		{RequirementVerified, RequirementReceived, true},
		{RequirementReceived, RequirementVerified, false},
		{RequirementInQA, RequirementReceived, true},
		{RequirementRejected, RequirementMissing, false},
		{RequirementExpired, RequirementReceived, false},
		{RequirementWaived, RequirementVerified, true},
		{RequirementRequested, RequirementReceived, false},
	}
	for _, tt := range tests {
		if got := tt.cur.Satisfies(tt.min); got != tt.want {
			t.Errorf("%s.Satisfies(%s): got %v, want %v", tt.cur, tt.min, got, tt.want)
		}
	}
}

func newRequirement(t *testing.T) DocumentRequirement {
	t.Helper()
	instance := uuid.New()
	subject := uuid.New()
	r := NewDocumentRequirement(uuid.New(), "PASSPORT", RequirementVerified, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	r.WorkflowInstanceID = &instance
	r.SubjectEntityID = &subject
	return r
}

func TestNewDocumentRequirement_Defaults(t *testing.T) {
	t.Parallel()

	r := NewDocumentRequirement(uuid.New(), "PASSPORT", "bogus", time.Now())
	if r.Status != RequirementMissing {
		t.Errorf("Status: got %s, want %s", r.Status, RequirementMissing)
	}
	if r.RequiredState != RequirementVerified {
		t.Errorf("RequiredState: got %s, want %s", r.RequiredState, RequirementVerified)
	}
	if r.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts: got %d, want %d", r.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestDocumentRequirement_HappyPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	r := newRequirement(t)
	taskID, docID, verID := uuid.New(), uuid.New(), uuid.New()

	if err := r.MarkRequested(taskID, now); err != nil {
		t.Fatalf("MarkRequested: %v", err)
	}
	if !r.MarkReceived(docID, verID, now.Add(time.Hour)) {
		t.Fatal("MarkReceived: got false")
	}
	if r.SatisfiedAt != nil {
		t.Fatal("SatisfiedAt set before required state reached")
	}
	if !r.StartQA(now.Add(2 * time.Hour)) {
		t.Fatal("StartQA: got false")
	}

	verifiedAt := now.Add(3 * time.Hour)
	if !r.MarkVerified(verID, verifiedAt) {
		t.Fatal("MarkVerified: got false")
	}
	if r.Status != RequirementVerified {
		t.Fatalf("Status: got %s, want %s", r.Status, RequirementVerified)
	}
	if r.SatisfiedAt == nil || !r.SatisfiedAt.Equal(verifiedAt) {
		t.Errorf("SatisfiedAt: got %v, want %v", r.SatisfiedAt, verifiedAt)
	}
	if *r.LatestVersionID != verID {
		t.Errorf("LatestVersionID: got %s, want %s", *r.LatestVersionID, verID)
	}

	if r.MarkVerified(uuid.New(), verifiedAt.Add(time.Hour)) {
		t.Error("second MarkVerified changed state")
	}
	if !r.SatisfiedAt.Equal(verifiedAt) {
		t.Error("SatisfiedAt moved on repeat verification")
	}
}

func TestDocumentRequirement_SatisfiedAtOnReceivedThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	r := NewDocumentRequirement(uuid.New(), "PROOF_OF_ADDRESS", RequirementReceived, now)

	r.MarkReceived(uuid.New(), uuid.New(), now)
	if r.SatisfiedAt == nil || !r.SatisfiedAt.Equal(now) {
		t.Fatalf("SatisfiedAt: got %v, want %v", r.SatisfiedAt, now)
	}

	r.StartQA(now.Add(time.Hour))
	r.MarkVerified(uuid.New(), now.Add(2*time.Hour))
	if !r.SatisfiedAt.Equal(now) {
		t.Errorf("SatisfiedAt changed: got %v, want %v", r.SatisfiedAt, now)
	}
}

func TestDocumentRequirement_RejectionAndResolicit(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	r := newRequirement(t)
	firstTask := uuid.New()
	_ = r.MarkRequested(firstTask, now)
	r.MarkReceived(uuid.New(), uuid.New(), now)
	r.StartQA(now)

	reason := "photo page blurred"
	if !r.MarkRejected("UNREADABLE", &reason, now) {
		t.Fatal("MarkRejected: got false")
	}
	if r.Status != RequirementRejected {
		t.Fatalf("Status: got %s, want %s", r.Status, RequirementRejected)
	}
	if r.AttemptCount != 1 {
		t.Fatalf("AttemptCount: got %d, want 1", r.AttemptCount)
	}
	if *r.LastRejectionCode != "UNREADABLE" {
		t.Errorf("LastRejectionCode: got %q", *r.LastRejectionCode)
	}

	// A second rejection while already rejected is ignored.
	if r.MarkRejected("EXPIRED_DOC", nil, now) {
		t.Error("MarkRejected on rejected: got true")
	}
	if r.AttemptCount != 1 || *r.LastRejectionCode != "UNREADABLE" {
		t.Errorf("after repeat rejection: attempts=%d code=%s", r.AttemptCount, *r.LastRejectionCode)
	}

	secondTask := uuid.New()
	if err := r.MarkRequested(secondTask, now.Add(time.Hour)); err != nil {
		t.Fatalf("MarkRequested: %v", err)
	}
	if r.Status != RequirementRequested {
		t.Errorf("Status: got %s, want %s", r.Status, RequirementRequested)
	}
	if *r.CurrentTaskID != secondTask {
		t.Errorf("CurrentTaskID: got %s, want %s", *r.CurrentTaskID, secondTask)
	}
}

func TestDocumentRequirement_StalledAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRequirement(t)
	r.MaxAttempts = 2

	for i := 0; i < 2; i++ {
		_ = r.MarkRequested(uuid.New(), now)
		r.MarkReceived(uuid.New(), uuid.New(), now)
		r.MarkRejected("UNREADABLE", nil, now)
	}

	if r.AttemptCount != 2 {
		t.Fatalf("AttemptCount: got %d, want 2", r.AttemptCount)
	}
	if !r.IsStalled() {
		t.Fatal("IsStalled: got false, want true")
	}
	err := r.MarkRequested(uuid.New(), now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkRequested on stalled: got %v, want ErrInvalidTransition", err)
	}
}

func TestDocumentRequirement_RejectedIgnoredOnceVerified(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRequirement(t)
	r.MarkReceived(uuid.New(), uuid.New(), now)
	r.MarkVerified(uuid.New(), now)

	if r.MarkRejected("UNREADABLE", nil, now) {
		t.Error("MarkRejected changed a verified requirement")
	}
	if r.AttemptCount != 0 {
		t.Errorf("AttemptCount: got %d, want 0", r.AttemptCount)
	}
}

func TestDocumentRequirement_ReceivedOnlyFromEarlyStates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from RequirementStatus
		want bool
	}{
		{RequirementMissing, true},
		{RequirementRequested, true},
		{RequirementRejected, true},
		{RequirementReceived, false},
		{RequirementInQA, false},
		{RequirementVerified, false},
		{RequirementWaived, false},
		{RequirementExpired, false},
	}
	for _, tt := range tests {
		r := newRequirement(t)
		r.Status = tt.from
		if got := r.MarkReceived(uuid.New(), uuid.New(), time.Now()); got != tt.want {
			t.Errorf("MarkReceived from %s: got %v, want %v", tt.from, got, tt.want)
		}
	}
}

func TestDocumentRequirement_QAOutcomesOnlyFromReceivedOrInQA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from RequirementStatus
		want bool
	}{
		{RequirementMissing, false},
		{RequirementRequested, false},
		{RequirementReceived, true},
		{RequirementInQA, true},
		{RequirementVerified, false},
		{RequirementRejected, false},
		{RequirementWaived, false},
		{RequirementExpired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			t.Parallel()

			verified := newRequirement(t)
			verified.Status = tt.from
			if got := verified.MarkVerified(uuid.New(), time.Now()); got != tt.want {
				t.Errorf("MarkVerified from %s: got %v, want %v", tt.from, got, tt.want)
			}

			rejected := newRequirement(t)
			rejected.Status = tt.from
			if got := rejected.MarkRejected("UNREADABLE", nil, time.Now()); got != tt.want {
				t.Errorf("MarkRejected from %s: got %v, want %v", tt.from, got, tt.want)
			}
			wantAttempts := 0
			if tt.want {
				wantAttempts = 1
			}
			if rejected.AttemptCount != wantAttempts {
				t.Errorf("AttemptCount from %s: got %d, want %d", tt.from, rejected.AttemptCount, wantAttempts)
			}
		})
	}
}

func TestDocumentRequirement_Tracks(t *testing.T) {
	t.Parallel()

	r := newRequirement(t)
	v1, v2 := uuid.New(), uuid.New()
	if !r.Tracks(v1) {
		t.Error("Tracks with no version received: got false")
	}
	r.MarkReceived(uuid.New(), v2, time.Now())
	if r.Tracks(v1) {
		t.Error("Tracks superseded version: got true")
	}
	if !r.Tracks(v2) {
		t.Error("Tracks latest version: got false")
	}
}

func TestDocumentRequirement_WaiveAndExpire(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := newRequirement(t)
	if err := r.Waive(now); err != nil {
		t.Fatalf("Waive: %v", err)
	}
	if !r.IsSatisfied() || r.SatisfiedAt == nil {
		t.Fatal("waived requirement not satisfied")
	}
	if err := r.Waive(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Waive: got %v, want ErrInvalidTransition", err)
	}
	if err := r.Expire(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expire waived: got %v, want ErrInvalidTransition", err)
	}

	v := newRequirement(t)
	v.MarkReceived(uuid.New(), uuid.New(), now)
	v.MarkVerified(uuid.New(), now)
	if err := v.Expire(now.Add(time.Hour)); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if v.Status != RequirementExpired || v.SatisfiedAt != nil {
		t.Fatalf("after Expire: status=%s satisfied_at=%v", v.Status, v.SatisfiedAt)
	}
	if err := v.MarkRequested(uuid.New(), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("MarkRequested after expiry: %v", err)
	}
}

func TestDocumentRequirement_SatisfiedWithin(t *testing.T) {
	t.Parallel()

	satisfied := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	r := newRequirement(t)
	r.Status = RequirementVerified
	r.SatisfiedAt = &satisfied

	if r.SatisfiedWithin(90, satisfied.AddDate(0, 0, 91)) {
		t.Error("T+91d within 90 days: got true, want false")
	}
	if !r.SatisfiedWithin(90, satisfied.AddDate(0, 0, 10)) {
		t.Error("T+10d within 90 days: got false, want true")
	}
	if !r.SatisfiedWithin(90, satisfied.AddDate(0, 0, 90)) {
		t.Error("T+90d within 90 days: got false, want true")
	}

	r.SatisfiedAt = nil
	if r.SatisfiedWithin(90, satisfied) {
		t.Error("nil SatisfiedAt: got true, want false")
	}
}
