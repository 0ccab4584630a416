package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func completedRecord(userID string, n int, tokens int) *JobRecord {
	now := time.Now().UTC()
	return &JobRecord{
		ID:               fmt.Sprintf("%s-job-%02d", userID, n),
		UserID:           userID,
		Provider:         "ollama",
		Model:            "llama3",
		Priority:         "normal",
		Status:           "completed",
		Attempts:         1,
		Content:          "ok",
		FinishReason:     "stop",
		PromptTokens:     tokens / 2,
		CompletionTokens: tokens - tokens/2,
		TotalTokens:      tokens,
		QueuedAt:         now.Add(-time.Minute),
		FinishedAt:       now.Add(time.Duration(n) * time.Second),
	}
}

func TestInsertAndListByUser(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Insert(ctx, completedRecord("list-user", i, 10)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := repo.Insert(ctx, completedRecord("other-user", 0, 10)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recs, err := repo.ListByUser(ctx, "list-user", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	// Newest finished first.
	for i := 1; i < len(recs); i++ {
		if recs[i].FinishedAt.After(recs[i-1].FinishedAt) {
			t.Fatalf("records not in DESC finished order: %v after %v", recs[i].FinishedAt, recs[i-1].FinishedAt)
		}
	}
}

func TestListByUserLimitClamp(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Insert(ctx, completedRecord("clamp-user", i, 4)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recs, err := repo.ListByUser(ctx, "clamp-user", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected limit 2 honored, got %d", len(recs))
	}
}

func TestUsageByUserCountsOnlyCompleted(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()

	if err := repo.Insert(ctx, completedRecord("usage-user", 0, 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, completedRecord("usage-user", 1, 40)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	kind := "processing"
	msg := "boom"
	failed := completedRecord("usage-user", 2, 0)
	failed.Status = "failed"
	failed.Content = ""
	failed.ErrorKind = &kind
	failed.Error = &msg
	if err := repo.Insert(ctx, failed); err != nil {
		t.Fatalf("insert failed rec: %v", err)
	}

	u, err := repo.UsageByUser(ctx, "usage-user")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Jobs != 2 {
		t.Fatalf("expected 2 completed jobs, got %d", u.Jobs)
	}
	if u.TotalTokens != 140 {
		t.Fatalf("expected 140 total tokens, got %d", u.TotalTokens)
	}
	if u.PromptTokens+u.CompletionTokens != u.TotalTokens {
		t.Fatalf("token split does not add up: %d + %d != %d", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
}

func TestUsageByUserEmpty(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	u, err := repo.UsageByUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if u.Jobs != 0 || u.TotalTokens != 0 {
		t.Fatalf("expected zero usage, got %+v", u)
	}
}
