package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/db"
	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/lifelinehq/lifeline/internal/work"
)

func TestIncidentsListCmd_Empty(t *testing.T) {
	cfgPath := writeTestConfig(t)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"incidents", "list", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("incidents list failed: %v", err)
	}

	if !strings.Contains(buf.String(), "No active incidents.") {
		t.Errorf("expected empty message, got: %s", buf.String())
	}
}

func TestIncidentsListCmd_ShowsRows(t *testing.T) {
	cfgPath := writeTestConfig(t)
	storePath := strings.TrimSuffix(cfgPath, "lifeline.yaml") + "lifeline.db"

	local, err := db.ConnectLocal(storePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateActive(local); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	inc := models.Incident{
		ID:              "inc_20260830120000_aabbccdd",
		ChannelIdentity: "+15550001111",
		WorkerID:        "worker_15550001111",
		ConversationID:  "conv_20260830120000_aabbccdd",
		Urgency:         models.UrgencyUrgent,
		Status:          models.StatusActive,
		Medium:          models.MediumText,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := local.Create(&inc).Error; err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"incidents", "list", "--config", cfgPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("incidents list failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"inc_20260830120000_aabbccdd", "+15550001111", "URGENT", "ACTIVE"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestIncidentsEndCmd_MissingArg(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"incidents", "end"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing incident id")
	}
}

func TestEndAndArchive_ClaimsBeforeArchiving(t *testing.T) {
	local, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateActive(local); err != nil {
		t.Fatal(err)
	}
	history, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateHistory(history); err != nil {
		t.Fatal(err)
	}

	fake := mirror.NewFakeStore()
	pool := work.NewPool(1, 1)
	archiver, err := archive.New(archive.Opts{
		Local:   local,
		History: history,
		Mirror:  fake,
		Pool:    pool,
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	inc := models.Incident{
		ID:              "inc_20260830120000_aabbccdd",
		ChannelIdentity: "+15550001111",
		WorkerID:        "worker_15550001111",
		ConversationID:  "conv_20260830120000_aabbccdd",
		Urgency:         models.UrgencyNormal,
		Status:          models.StatusActive,
		Medium:          models.MediumText,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := local.Create(&inc).Error; err != nil {
		t.Fatal(err)
	}
	msg := models.Message{ConversationID: inc.ConversationID, Seq: 1, Role: models.RoleUser, Content: "false alarm"}
	if err := local.Create(&msg).Error; err != nil {
		t.Fatal(err)
	}
	fake.Seed(inc, []models.Message{msg})

	buf := new(bytes.Buffer)
	if err := endAndArchive(local, archiver, pool, inc.ID, buf); err != nil {
		t.Fatalf("endAndArchive: %v", err)
	}
	if !strings.Contains(buf.String(), "ended and archived") {
		t.Errorf("output = %q, want success message", buf.String())
	}

	var hist models.HistoricalIncident
	if err := history.Where("id = ?", inc.ID).First(&hist).Error; err != nil {
		t.Fatalf("historical record not written: %v", err)
	}
	if hist.FinalResolution != archive.ResolutionManual {
		t.Errorf("FinalResolution = %q, want manual", hist.FinalResolution)
	}

	var count int64
	local.Model(&models.Incident{}).Where("id = ?", inc.ID).Count(&count)
	if count != 0 {
		t.Error("incident row still present in the local store")
	}
}

func TestEndAndArchive_AlreadyClaimed(t *testing.T) {
	local, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateActive(local); err != nil {
		t.Fatal(err)
	}
	history, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateHistory(history); err != nil {
		t.Fatal(err)
	}

	pool := work.NewPool(1, 1)
	archiver, err := archive.New(archive.Opts{
		Local:   local,
		History: history,
		Mirror:  mirror.NewFakeStore(),
		Pool:    pool,
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	inc := models.Incident{
		ID:              "inc_20260830120000_11223344",
		ChannelIdentity: "+15550002222",
		WorkerID:        "worker_15550002222",
		ConversationID:  "conv_20260830120000_11223344",
		Urgency:         models.UrgencyNormal,
		Status:          models.StatusEnding,
		Medium:          models.MediumText,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := local.Create(&inc).Error; err != nil {
		t.Fatal(err)
	}

	// Another trigger holds the claim; the command must not archive a
	// second time.
	buf := new(bytes.Buffer)
	if err := endAndArchive(local, archiver, pool, inc.ID, buf); err != nil {
		t.Fatalf("endAndArchive: %v", err)
	}

	var count int64
	history.Model(&models.HistoricalIncident{}).Where("id = ?", inc.ID).Count(&count)
	if count != 0 {
		t.Errorf("historical records = %d, want 0 for an already-claimed incident", count)
	}
}

func TestNewIncidentsCmd(t *testing.T) {
	cmd := newIncidentsCmd()
	if cmd.Use != "incidents" {
		t.Errorf("Use = %q, want %q", cmd.Use, "incidents")
	}
	if !cmd.HasSubCommands() {
		t.Error("incidents command should have subcommands")
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"minutes and seconds", 5*time.Minute + 30*time.Second, "5m 30s"},
		{"hours and minutes", 3*time.Hour + 12*time.Minute, "3h 12m"},
		{"zero", 0, "0m 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAge(tt.d); got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}
