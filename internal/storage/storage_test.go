package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
	"github.com/BPS-Circular-API/discord-bot/internal/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "data.db")}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestGuildSubscriptionUniqueness(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sub := circular.GuildSubscription{GuildID: 10, ChannelID: 20, Message: "hi"}
	if err := st.AddGuildSubscription(ctx, sub); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Same guild, different channel: rejected, not overwritten.
	err := st.AddGuildSubscription(ctx, circular.GuildSubscription{GuildID: 10, ChannelID: 21})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second add err = %v, want ErrAlreadyRegistered", err)
	}
	// Different guild reusing the channel: also rejected.
	err = st.AddGuildSubscription(ctx, circular.GuildSubscription{GuildID: 11, ChannelID: 20})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("channel reuse err = %v, want ErrAlreadyRegistered", err)
	}

	got, err := st.GetGuildSubscription(ctx, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChannelID != 20 || got.Message != "hi" {
		t.Fatalf("row changed: %+v", got)
	}
}

func TestSubscriptionRemoveAndDefaults(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AddUserSubscription(ctx, circular.UserSubscription{UserID: 99}); err != nil {
		t.Fatalf("add user: %v", err)
	}
	u, err := st.GetUserSubscription(ctx, 99)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Message != circular.DefaultDMMessage {
		t.Fatalf("default message not applied: %q", u.Message)
	}

	if err := st.RemoveUserSubscription(ctx, 99); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := st.GetUserSubscription(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after remove err = %v, want ErrNotFound", err)
	}
	// Removing an already-removed row is not an error.
	if err := st.RemoveUserSubscription(ctx, 99); err != nil {
		t.Fatalf("double remove: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.Snapshot(ctx, "exam"); err != nil || ok {
		t.Fatalf("cold snapshot = ok %v err %v, want absent", ok, err)
	}

	first := []circular.Circular{{ID: 1, Title: "a", Link: "https://x/1"}, {ID: 2, Title: "b", Link: "https://x/2"}}
	if err := st.PutSnapshot(ctx, "exam", first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := []circular.Circular{{ID: 2}, {ID: 3}}
	if err := st.PutSnapshot(ctx, "exam", second); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, ok, err := st.Snapshot(ctx, "exam")
	if err != nil || !ok {
		t.Fatalf("snapshot: ok %v err %v", ok, err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 3 {
		t.Fatalf("snapshot not replaced: %+v", got)
	}
}

func TestDeliveryLedger(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	recs := []circular.DeliveryRecord{
		{CircularID: 501, Type: circular.DestGuild, MessageID: 1001, ChannelID: 20, GuildID: 10},
		{CircularID: 501, Type: circular.DestDM, MessageID: 1002, ChannelID: 99},
		{CircularID: 502, Type: circular.DestDM, MessageID: 1003, ChannelID: 99},
	}
	for _, r := range recs {
		if err := st.AppendDelivery(ctx, r); err != nil {
			t.Fatalf("append %+v: %v", r, err)
		}
	}

	got, err := st.DeliveriesByCircular(ctx, 501)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].MessageID != 1001 || got[0].Type != circular.DestGuild || got[0].GuildID != 10 {
		t.Fatalf("first record: %+v", got[0])
	}

	if err := st.DeleteDelivery(ctx, 1001); err != nil {
		t.Fatalf("delete one: %v", err)
	}
	if err := st.DeleteDeliveriesByCircular(ctx, 501); err != nil {
		t.Fatalf("delete bulk: %v", err)
	}
	got, err = st.DeliveriesByCircular(ctx, 501)
	if err != nil || len(got) != 0 {
		t.Fatalf("after delete: %d rows, err %v", len(got), err)
	}
	// 502 untouched
	got, _ = st.DeliveriesByCircular(ctx, 502)
	if len(got) != 1 {
		t.Fatalf("unrelated circular affected: %d rows", len(got))
	}
}

func TestLogsAppendAndPrune(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		e := logging.Entry{At: base.Add(time.Duration(i) * time.Second), Level: "warn", Message: "m"}
		if err := st.AppendLog(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := st.PruneLogs(ctx, 4); err != nil {
		t.Fatalf("prune: %v", err)
	}
	got, err := st.RecentLogs(ctx, "", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("rows after prune = %d, want 4", len(got))
	}
	if !got[0].At.After(got[len(got)-1].At) {
		t.Fatalf("expected newest-first ordering")
	}
}
