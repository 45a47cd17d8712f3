package discord

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

// fakeSession implements the session interface in memory.
type fakeSession struct {
	mu       sync.Mutex
	nextID   int
	channels map[string]*discordgo.Channel
	messages map[string][]string
	history  map[string][]*discordgo.Message

	createErr error
	sendErr   error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		channels: make(map[string]*discordgo.Channel),
		messages: make(map[string][]string),
		history:  make(map[string][]*discordgo.Message),
	}
}

func (f *fakeSession) Open() error  { return nil }
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, &discordgo.RESTError{Response: &http.Response{StatusCode: 404}}
	}
	return ch, nil
}

func (f *fakeSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	ch := &discordgo.Channel{
		ID:       fmt.Sprintf("chan-%d", f.nextID),
		Name:     data.Name,
		ParentID: data.ParentID,
		Type:     data.Type,
		GuildID:  guildID,
	}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages[channelID] = append(f.messages[channelID], content)
	return &discordgo.Message{Content: content}, nil
}

func (f *fakeSession) ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.channels[channelID]
	delete(f.channels, channelID)
	return ch, nil
}

func (f *fakeSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.history[channelID]
	if beforeID != "" {
		// Single-page fakes: nothing before the last page.
		return nil, nil
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func newTestClient(t *testing.T, sess *fakeSession) *Client {
	t.Helper()
	client, err := New(ClientOpts{GuildID: "guild-1", CategoryID: "cat-1", Session: sess})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(ClientOpts{GuildID: "g"}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := New(ClientOpts{Session: newFakeSession()}); err == nil {
		t.Error("expected error without guild id")
	}
}

func TestClient_CreateChannel(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	id, err := client.CreateChannel(context.Background(), "ticket-alice")
	if err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}

	ch := sess.channels[id]
	if ch == nil {
		t.Fatal("channel not created")
	}
	if ch.ParentID != "cat-1" {
		t.Errorf("channel must be created under the category, got parent %s", ch.ParentID)
	}
	if ch.Type != discordgo.ChannelTypeGuildText {
		t.Errorf("expected text channel, got %v", ch.Type)
	}
}

func TestClient_SendToChannel(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	if err := client.SendToChannel(context.Background(), "chan-x", "hello"); err != nil {
		t.Fatalf("SendToChannel failed: %v", err)
	}
	if got := sess.messages["chan-x"]; len(got) != 1 || got[0] != "hello" {
		t.Errorf("unexpected messages: %v", got)
	}
}

func TestClient_SendToChannelChunksLongContent(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	long := strings.Repeat("x", 4500)
	if err := client.SendToChannel(context.Background(), "chan-x", long); err != nil {
		t.Fatalf("SendToChannel failed: %v", err)
	}

	msgs := sess.messages["chan-x"]
	if len(msgs) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(msgs))
	}
	total := 0
	for _, m := range msgs {
		if len(m) > maxMessageLen {
			t.Errorf("chunk exceeds limit: %d", len(m))
		}
		total += len(m)
	}
	if total != 4500 {
		t.Errorf("content lost in chunking: %d of 4500", total)
	}
}

func TestClient_ChannelExists(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	id, _ := client.CreateChannel(context.Background(), "ticket-alice")

	exists, err := client.ChannelExists(context.Background(), id)
	if err != nil || !exists {
		t.Errorf("expected channel to exist: %v, %v", exists, err)
	}

	// A 404 means deleted, not an error.
	exists, err = client.ChannelExists(context.Background(), "gone")
	if err != nil {
		t.Fatalf("404 must not surface as error: %v", err)
	}
	if exists {
		t.Error("deleted channel must not exist")
	}
}

func TestClient_DeleteChannel(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	id, _ := client.CreateChannel(context.Background(), "ticket-alice")
	if err := client.DeleteChannel(context.Background(), id); err != nil {
		t.Fatalf("DeleteChannel failed: %v", err)
	}
	if _, ok := sess.channels[id]; ok {
		t.Error("channel must be removed")
	}
}

func TestClient_ChannelHistoryOldestFirst(t *testing.T) {
	sess := newFakeSession()
	client := newTestClient(t, sess)

	// The API returns newest-first.
	sess.history["chan-1"] = []*discordgo.Message{
		{ID: "3", Content: "third", Author: &discordgo.User{ID: "u1", Username: "alice"}, Timestamp: time.Now()},
		{ID: "2", Content: "second", Author: &discordgo.User{ID: "u1", Username: "alice"}, Timestamp: time.Now()},
		{ID: "1", Content: "first", Author: &discordgo.User{ID: "u2", Username: "bob"}, Timestamp: time.Now()},
	}

	msgs, err := client.ChannelHistory(context.Background(), "chan-1", 10)
	if err != nil {
		t.Fatalf("ChannelHistory failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "first" || msgs[2].Text != "third" {
		t.Errorf("history must be oldest-first: %v", msgs)
	}
	if msgs[0].UserName != "bob" {
		t.Errorf("author metadata lost: %+v", msgs[0])
	}
}

func TestChunkMessage(t *testing.T) {
	if got := chunkMessage("short", 2000); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text must stay whole: %v", got)
	}

	// Prefers newline breaks over hard cuts.
	text := strings.Repeat("a", 1500) + "\n" + strings.Repeat("b", 1500)
	chunks := chunkMessage(text, 2000)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "a") || !strings.HasPrefix(chunks[1], "b") {
		t.Errorf("chunk must break at the newline: %q / %q", chunks[0][:10], chunks[1][:10])
	}
}
