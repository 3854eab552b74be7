package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lifelinehq/lifeline/internal/db"
	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/models"
	"gorm.io/gorm"
)

// openStoreTestDB opens an in-memory store with the active schema migrated.
func openStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectLocal(":memory:")
	if err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	if err := db.MigrateActive(gdb); err != nil {
		t.Fatalf("MigrateActive: %v", err)
	}
	return gdb
}

func newTestStore(t *testing.T, checker ExistenceChecker) *Store {
	t.Helper()
	s, err := NewStore(openStoreTestDB(t), checker)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// erroringChecker simulates a mirror that cannot be probed.
type erroringChecker struct{}

func (erroringChecker) IncidentExists(ctx context.Context, incidentID string) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestNewIDPair(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 34, 56, 0, time.UTC)
	incID, convID := NewIDPair(now)

	if !strings.HasPrefix(incID, "inc_20260830123456_") {
		t.Errorf("incident ID = %q, want prefix inc_20260830123456_", incID)
	}
	if !strings.HasPrefix(convID, "conv_20260830123456_") {
		t.Errorf("conversation ID = %q, want prefix conv_20260830123456_", convID)
	}
	if strings.TrimPrefix(incID, "inc_") != strings.TrimPrefix(convID, "conv_") {
		t.Errorf("IDs do not share stamp and suffix: %q vs %q", incID, convID)
	}

	suffix := incID[len(incID)-8:]
	if len(suffix) != 8 {
		t.Errorf("suffix = %q, want 8 chars", suffix)
	}
}

func TestNewIDPair_Unique(t *testing.T) {
	now := time.Now()
	a, _ := NewIDPair(now)
	b, _ := NewIDPair(now)
	if a == b {
		t.Errorf("two IDs at the same instant collided: %q", a)
	}
}

func TestDeriveWorkerID(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{"+15550001111", "worker_15550001111"},
		{"alice@chat", "worker_alicechat"},
		{"bob_7", "worker_bob_7"},
		{"x y-z", "worker_xy-z"},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			if got := DeriveWorkerID(tt.channel); got != tt.want {
				t.Errorf("DeriveWorkerID(%q) = %q, want %q", tt.channel, got, tt.want)
			}
		})
	}
}

func TestNewStore_RequiresDB(t *testing.T) {
	_, err := NewStore(nil, nil)
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "incident: db is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "incident: db is required")
	}
}

func TestUpsertTurn_CreatesIncident(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	res, err := s.UpsertTurn(ctx, TurnInput{
		ChannelIdentity: "+15550001111",
		Medium:          models.MediumVoice,
		UserText:        "gas leak on level 2",
		AssistantText:   "Evacuate the area immediately.",
		Urgency:         models.UrgencyCritical,
		Citations:       "safety-manual-7",
	})
	if err != nil {
		t.Fatalf("UpsertTurn: %v", err)
	}

	if !res.NewIncident {
		t.Error("NewIncident = false, want true")
	}
	if res.Incident.Status != models.StatusActive {
		t.Errorf("Status = %q, want ACTIVE", res.Incident.Status)
	}
	if res.Incident.Medium != models.MediumVoice {
		t.Errorf("Medium = %q, want VOICE", res.Incident.Medium)
	}
	if res.Incident.Urgency != models.UrgencyCritical {
		t.Errorf("Urgency = %q, want CRITICAL", res.Incident.Urgency)
	}
	if res.Incident.WorkerID != "worker_15550001111" {
		t.Errorf("WorkerID = %q, want derived worker_15550001111", res.Incident.WorkerID)
	}
	if res.TotalMessages != 2 {
		t.Fatalf("TotalMessages = %d, want 2", res.TotalMessages)
	}
	if res.Messages[0].Seq != 1 || res.Messages[0].Role != models.RoleUser {
		t.Errorf("first message = seq %d role %q, want seq 1 role user", res.Messages[0].Seq, res.Messages[0].Role)
	}
	if res.Messages[1].Seq != 2 || res.Messages[1].Role != models.RoleAssistant {
		t.Errorf("second message = seq %d role %q, want seq 2 role assistant", res.Messages[1].Seq, res.Messages[1].Role)
	}
	if res.Messages[1].Citations != "safety-manual-7" {
		t.Errorf("Citations = %q, want safety-manual-7", res.Messages[1].Citations)
	}
}

func TestUpsertTurn_ReusesActiveIncident(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	first, err := s.UpsertTurn(ctx, TurnInput{
		ChannelIdentity: "+15550001111",
		UserText:        "smoke in the stairwell",
		AssistantText:   "Where exactly?",
	})
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}

	second, err := s.UpsertTurn(ctx, TurnInput{
		ChannelIdentity: "+15550001111",
		UserText:        "third floor, east side",
		AssistantText:   "Help is on the way.",
	})
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}

	if second.NewIncident {
		t.Error("NewIncident = true on reuse, want false")
	}
	if second.Incident.ID != first.Incident.ID {
		t.Errorf("incident ID changed: %q -> %q", first.Incident.ID, second.Incident.ID)
	}
	if second.TotalMessages != 4 {
		t.Fatalf("TotalMessages = %d, want 4", second.TotalMessages)
	}
	for i, m := range second.Messages {
		if m.Seq != i+1 {
			t.Errorf("Messages[%d].Seq = %d, want %d (gap-free)", i, m.Seq, i+1)
		}
	}
}

func TestUpsertTurn_UrgencyNeverLowers(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.UpsertTurn(ctx, TurnInput{
		ChannelIdentity: "ch-1", UserText: "a", AssistantText: "b", Urgency: models.UrgencyCritical,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := s.UpsertTurn(ctx, TurnInput{
		ChannelIdentity: "ch-1", UserText: "c", AssistantText: "d", Urgency: models.UrgencyNormal,
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Incident.Urgency != models.UrgencyCritical {
		t.Errorf("Urgency = %q, want CRITICAL (raise-only)", res.Incident.Urgency)
	}
}

func TestUpsertTurn_SeparateChannelsSeparateIncidents(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	a, _ := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-a", UserText: "x", AssistantText: "y"})
	b, _ := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-b", UserText: "x", AssistantText: "y"})

	if a.Incident.ID == b.Incident.ID {
		t.Error("different channels shared an incident")
	}
}

func TestUpsertTurn_MirrorGoneStartsFresh(t *testing.T) {
	fake := mirror.NewFakeStore()
	s := newTestStore(t, fake)
	ctx := context.Background()

	first, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "a", AssistantText: "b"})
	if err != nil {
		t.Fatal(err)
	}
	// Mirror the incident, then simulate archival removing it.
	fake.Seed(first.Incident, first.Messages)
	if err := fake.Delete(ctx, first.Incident.ID, first.Incident.ConversationID); err != nil {
		t.Fatal(err)
	}

	second, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "c", AssistantText: "d"})
	if err != nil {
		t.Fatal(err)
	}

	if !second.NewIncident {
		t.Error("NewIncident = false, want true after mirror entry vanished")
	}
	if second.Incident.ID == first.Incident.ID {
		t.Error("reused an incident that was archived out of the mirror")
	}
	if second.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2 (fresh conversation)", second.TotalMessages)
	}

	// The stale row is retired, not deleted; the reconciler owns the cleanup.
	stale, err := s.Get(ctx, first.Incident.ID)
	if err != nil {
		t.Fatalf("Get stale: %v", err)
	}
	if stale.Status != models.StatusEnded {
		t.Errorf("stale status = %q, want ENDED", stale.Status)
	}
}

func TestUpsertTurn_MirrorPresentReuses(t *testing.T) {
	fake := mirror.NewFakeStore()
	s := newTestStore(t, fake)
	ctx := context.Background()

	first, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "a", AssistantText: "b"})
	if err != nil {
		t.Fatal(err)
	}
	fake.Seed(first.Incident, first.Messages)

	second, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "c", AssistantText: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if second.NewIncident {
		t.Error("NewIncident = true, want reuse while mirror entry exists")
	}
}

func TestUpsertTurn_MirrorProbeErrorReuses(t *testing.T) {
	s := newTestStore(t, erroringChecker{})
	ctx := context.Background()

	first, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "a", AssistantText: "b"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "c", AssistantText: "d"})
	if err != nil {
		t.Fatal(err)
	}
	// The local store is authoritative; a failed probe must not fork incidents.
	if second.Incident.ID != first.Incident.ID {
		t.Error("probe failure forked the incident")
	}
}

func TestUpsertTurn_ConcurrentSameChannel(t *testing.T) {
	gdb := openStoreTestDB(t)
	// One connection serializes the transactions so racing turns queue
	// instead of failing with a locked database.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	s, err := NewStore(gdb, nil)
	if err != nil {
		t.Fatal(err)
	}

	const turns = 10
	errCh := make(chan error, turns)
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.UpsertTurn(context.Background(), TurnInput{
				ChannelIdentity: "ch-1",
				UserText:        fmt.Sprintf("update %d", i),
				AssistantText:   "copy that",
			})
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent UpsertTurn: %v", err)
		}
	}

	var active int64
	gdb.Model(&models.Incident{}).
		Where("channel_identity = ? AND status = ?", "ch-1", models.StatusActive).
		Count(&active)
	if active != 1 {
		t.Fatalf("active incidents = %d, want 1", active)
	}

	inc, found, err := s.FindActiveByChannel(context.Background(), "ch-1")
	if err != nil || !found {
		t.Fatalf("FindActiveByChannel = (%v, %v)", found, err)
	}
	msgs, err := s.Conversation(context.Background(), inc.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2*turns {
		t.Fatalf("len(msgs) = %d, want %d", len(msgs), 2*turns)
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("Messages[%d].Seq = %d, want %d (contiguous, no duplicates)", i, m.Seq, i+1)
		}
	}
}

func TestUpsertTurn_Validation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		in      TurnInput
		wantErr string
	}{
		{
			name:    "missing channel",
			in:      TurnInput{UserText: "x"},
			wantErr: "incident: channel identity is required: invalid turn input",
		},
		{
			name:    "missing user text",
			in:      TurnInput{ChannelIdentity: "ch-1"},
			wantErr: "incident: user text is required: invalid turn input",
		},
		{
			name:    "bad medium",
			in:      TurnInput{ChannelIdentity: "ch-1", UserText: "x", Medium: "CARRIER_PIGEON"},
			wantErr: `incident: unknown medium "CARRIER_PIGEON": invalid turn input`,
		},
		{
			name:    "bad urgency",
			in:      TurnInput{ChannelIdentity: "ch-1", UserText: "x", Urgency: "PANIC"},
			wantErr: `incident: unknown urgency "PANIC": invalid turn input`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.UpsertTurn(ctx, tt.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Error("rejected input does not match ErrInvalid")
			}
		})
	}
}

func TestUpsertTurn_RegisteredWorker(t *testing.T) {
	gdb := openStoreTestDB(t)
	s, err := NewStore(gdb, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := gdb.Create(&models.Worker{
		ID:              "w-42",
		ChannelIdentity: "+15550001111",
		Name:            "Dana",
		Org:             "north-yard",
	}).Error; err != nil {
		t.Fatal(err)
	}

	res, err := s.UpsertTurn(context.Background(), TurnInput{
		ChannelIdentity: "+15550001111", UserText: "x", AssistantText: "y",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Incident.WorkerID != "w-42" {
		t.Errorf("WorkerID = %q, want registered w-42", res.Incident.WorkerID)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t, nil)
	_, err := s.Get(context.Background(), "inc_missing")
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindActiveByChannel(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	_, found, err := s.FindActiveByChannel(ctx, "ch-1")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("found = true before any turn")
	}

	res, _ := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "x", AssistantText: "y"})
	inc, found, err := s.FindActiveByChannel(ctx, "ch-1")
	if err != nil || !found {
		t.Fatalf("FindActiveByChannel = (%v, %v)", found, err)
	}
	if inc.ID != res.Incident.ID {
		t.Errorf("ID = %q, want %q", inc.ID, res.Incident.ID)
	}
}

func TestActiveList_Order(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base })
	s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-old", UserText: "x", AssistantText: "y"})
	s.SetNowFunc(func() time.Time { return base.Add(time.Minute) })
	s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-new", UserText: "x", AssistantText: "y"})

	incs, err := s.ActiveList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(incs) != 2 {
		t.Fatalf("len = %d, want 2", len(incs))
	}
	if incs[0].ChannelIdentity != "ch-new" {
		t.Errorf("first = %q, want most recently active ch-new", incs[0].ChannelIdentity)
	}
}

func TestTakeover(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	res, _ := s.UpsertTurn(ctx, TurnInput{ChannelIdentity: "ch-1", UserText: "x", AssistantText: "y"})

	if err := s.Takeover(ctx, res.Incident.ID, "sup-1"); err != nil {
		t.Fatalf("first takeover: %v", err)
	}
	// Taking over your own incident again is a no-op.
	if err := s.Takeover(ctx, res.Incident.ID, "sup-1"); err != nil {
		t.Fatalf("repeat takeover: %v", err)
	}
	// A different supervisor cannot steal it.
	err := s.Takeover(ctx, res.Incident.ID, "sup-2")
	if err == nil {
		t.Fatal("expected error stealing an assigned incident")
	}
	if !strings.Contains(err.Error(), "already assigned to sup-1") {
		t.Errorf("error = %q, want already-assigned error", err.Error())
	}

	inc, _ := s.Get(ctx, res.Incident.ID)
	if inc.SupervisorID != "sup-1" {
		t.Errorf("SupervisorID = %q, want sup-1", inc.SupervisorID)
	}
}

func TestTakeover_Validation(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if err := s.Takeover(ctx, "inc_x", ""); err == nil {
		t.Error("expected error for empty supervisor id")
	}
	if err := s.Takeover(ctx, "inc_missing", "sup-1"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConversation_Empty(t *testing.T) {
	s := newTestStore(t, nil)
	msgs, err := s.Conversation(context.Background(), "conv_missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("len = %d, want 0", len(msgs))
	}
}
