package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&User{}, &Request{}, &Chat{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():    "users",
		(Request{}).TableName(): "requests",
		(Chat{}).TableName():    "chats",
		(Message{}).TableName(): "messages",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_IndexesAndCascade(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	if !m.HasIndex(&Chat{}, "idx_user_chats") {
		t.Fatalf("expected index idx_user_chats on chats")
	}
	if !m.HasIndex(&Message{}, "ux_chat_position") {
		t.Fatalf("expected unique index ux_chat_position on messages")
	}
	if !m.HasIndex(&Request{}, "idx_user_requests") {
		t.Fatalf("expected index idx_user_requests on requests")
	}

	now := time.Now().UTC()
	if err := db.Create(&Chat{ID: "c1", UserID: "u1", Title: "T", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	parts := []byte(`[{"type":"text","text":"hi"}]`)
	if err := db.Create(&Message{ID: "m1", ChatID: "c1", Role: RoleUser, Parts: parts, Order: 0}).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	// same (chat_id, position) must be rejected
	if err := db.Create(&Message{ID: "m2", ChatID: "c1", Role: RoleAssistant, Parts: parts, Order: 0}).Error; err == nil {
		t.Fatalf("expected unique violation on duplicate position")
	}
	if err := db.Create(&Message{ID: "m3", ChatID: "c1", Role: "system", Parts: parts, Order: 1}).Error; err == nil {
		t.Fatalf("expected role check violation")
	}

	if err := db.Delete(&Chat{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	var cnt int64
	db.Model(&Message{}).Where("chat_id = ?", "c1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", cnt)
	}
}

func TestUIMessage_NormalizedPartsAndText(t *testing.T) {
	plain := UIMessage{Role: RoleUser, Content: "Hello"}
	ps := plain.NormalizedParts()
	if len(ps) != 1 || ps[0].Type != PartText || ps[0].Text != "Hello" {
		t.Fatalf("fallback parts unexpected: %+v", ps)
	}
	if plain.Text() != "Hello" {
		t.Fatalf("Text() = %q", plain.Text())
	}

	rich := UIMessage{Role: RoleAssistant, Parts: []Part{
		{Type: PartText, Text: "a"},
		{Type: PartToolInvocation, ToolInvocation: &ToolInvocation{State: ToolStateResult, ToolCallID: "t1", ToolName: "searchWeb"}},
		{Type: PartText, Text: "b"},
	}}
	if rich.Text() != "ab" {
		t.Fatalf("Text() = %q; want ab", rich.Text())
	}
	if len((UIMessage{Role: RoleUser}).NormalizedParts()) != 0 {
		t.Fatalf("empty message should have no parts")
	}
}

func TestToRecords_RoundTrip(t *testing.T) {
	in := []UIMessage{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Parts: []Part{{Type: PartToolInvocation, ToolInvocation: &ToolInvocation{
			State: ToolStateResult, ToolCallID: "c1", ToolName: "scrapePages",
			Args: json.RawMessage(`{"urls":["https://x"]}`), Result: json.RawMessage(`{"success":true}`),
		}}, {Type: PartText, Text: "answer"}}},
	}
	recs, err := ToRecords("chat", in)
	if err != nil {
		t.Fatalf("ToRecords: %v", err)
	}
	for i, r := range recs {
		if r.Order != i || r.ChatID != "chat" {
			t.Fatalf("record %d unexpected: %+v", i, r)
		}
	}
	back, err := recs[1].UIMessage()
	if err != nil {
		t.Fatalf("UIMessage: %v", err)
	}
	if back.Content != "answer" || len(back.Parts) != 2 || back.Parts[0].ToolInvocation.ToolName != "scrapePages" {
		t.Fatalf("decoded message unexpected: %+v", back)
	}

	if _, err := ToRecords("chat", []UIMessage{{Role: "system"}}); err == nil {
		t.Fatalf("expected invalid role error")
	}
}
