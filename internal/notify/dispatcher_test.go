package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
	"github.com/BPS-Circular-API/discord-bot/internal/platform"
)

// fakePlatform scripts resolve/send outcomes per id and records every send.
type fakePlatform struct {
	guildErr   map[int64]error
	channelErr map[int64]error
	userErr    map[int64]error
	sendErr    map[int64]error // by channel id
	dmErr      map[int64]error // by user id
	channels   map[int64][]platform.Channel

	sent      []sentMessage
	nextMsgID int64
}

type sentMessage struct {
	channelID   int64
	userID      int64
	title       string
	description string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guildErr:   map[int64]error{},
		channelErr: map[int64]error{},
		userErr:    map[int64]error{},
		sendErr:    map[int64]error{},
		dmErr:      map[int64]error{},
		channels:   map[int64][]platform.Channel{},
		nextMsgID:  1000,
	}
}

func (f *fakePlatform) ResolveGuild(_ context.Context, id int64) (platform.Guild, error) {
	if err := f.guildErr[id]; err != nil {
		return platform.Guild{}, err
	}
	return platform.Guild{ID: id}, nil
}

func (f *fakePlatform) ResolveChannel(_ context.Context, id int64) (platform.Channel, error) {
	if err := f.channelErr[id]; err != nil {
		return platform.Channel{}, err
	}
	return platform.Channel{ID: id}, nil
}

func (f *fakePlatform) GuildChannels(_ context.Context, guildID int64) ([]platform.Channel, error) {
	return f.channels[guildID], nil
}

func (f *fakePlatform) ResolveUser(_ context.Context, id int64) (platform.User, error) {
	if err := f.userErr[id]; err != nil {
		return platform.User{}, err
	}
	return platform.User{ID: id}, nil
}

func (f *fakePlatform) SendToChannel(_ context.Context, channelID int64, pages []platform.Page) (int64, error) {
	if err := f.sendErr[channelID]; err != nil {
		return 0, err
	}
	f.nextMsgID++
	f.sent = append(f.sent, sentMessage{channelID: channelID, title: pages[0].Title, description: pages[0].Description})
	return f.nextMsgID, nil
}

func (f *fakePlatform) SendDM(_ context.Context, userID int64, pages []platform.Page) (int64, error) {
	if err := f.dmErr[userID]; err != nil {
		return 0, err
	}
	f.nextMsgID++
	f.sent = append(f.sent, sentMessage{userID: userID, title: pages[0].Title, description: pages[0].Description})
	return f.nextMsgID, nil
}

func (f *fakePlatform) EditMessage(_ context.Context, _ platform.MessageRef, _ []platform.Page) error {
	return nil
}

func (f *fakePlatform) DeleteMessage(_ context.Context, _ platform.MessageRef) error {
	return nil
}

// fakeRegistry is an in-memory Registry with deterministic order.
type fakeRegistry struct {
	guilds []circular.GuildSubscription
	users  []circular.UserSubscription
}

func (r *fakeRegistry) GuildSubscriptions(context.Context) ([]circular.GuildSubscription, error) {
	return append([]circular.GuildSubscription(nil), r.guilds...), nil
}

func (r *fakeRegistry) UserSubscriptions(context.Context) ([]circular.UserSubscription, error) {
	return append([]circular.UserSubscription(nil), r.users...), nil
}

func (r *fakeRegistry) GetGuildSubscription(_ context.Context, guildID int64) (circular.GuildSubscription, error) {
	for _, g := range r.guilds {
		if g.GuildID == guildID {
			return g, nil
		}
	}
	return circular.GuildSubscription{}, errors.New("not found")
}

func (r *fakeRegistry) GetUserSubscription(_ context.Context, userID int64) (circular.UserSubscription, error) {
	for _, u := range r.users {
		if u.UserID == userID {
			return u, nil
		}
	}
	return circular.UserSubscription{}, errors.New("not found")
}

func (r *fakeRegistry) RemoveGuildSubscription(_ context.Context, guildID, channelID int64) error {
	out := r.guilds[:0]
	for _, g := range r.guilds {
		if g.GuildID != guildID || g.ChannelID != channelID {
			out = append(out, g)
		}
	}
	r.guilds = out
	return nil
}

func (r *fakeRegistry) RemoveUserSubscription(_ context.Context, userID int64) error {
	out := r.users[:0]
	for _, u := range r.users {
		if u.UserID != userID {
			out = append(out, u)
		}
	}
	r.users = out
	return nil
}

func (r *fakeRegistry) hasGuild(guildID int64) bool {
	for _, g := range r.guilds {
		if g.GuildID == guildID {
			return true
		}
	}
	return false
}

func (r *fakeRegistry) hasUser(userID int64) bool {
	for _, u := range r.users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

type fakeLedger struct {
	records []circular.DeliveryRecord
}

func (l *fakeLedger) AppendDelivery(_ context.Context, rec circular.DeliveryRecord) error {
	l.records = append(l.records, rec)
	return nil
}

type fakePreviewer struct {
	images []string
	err    error
}

func (p *fakePreviewer) PreviewImages(context.Context, string) ([]string, error) {
	return p.images, p.err
}

func newTestDispatcher(client platform.Client, reg *fakeRegistry, led *fakeLedger) *Dispatcher {
	return NewDispatcher(
		DispatcherConfig{RatePerSec: 1000},
		client, reg, led,
		&fakePreviewer{images: []string{"https://img/1.png"}},
		NewRenderer(testStyle),
		zerolog.Nop(),
	)
}

func TestNotifyScenario(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	reg := &fakeRegistry{
		guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20, Message: "guild msg"}},
		users:  []circular.UserSubscription{{UserID: 99, Message: "dm msg"}},
	}
	led := &fakeLedger{}
	d := newTestDispatcher(client, reg, led)

	item := circular.Circular{ID: 501, Title: "Mid-term schedule", Link: "https://x/501"}
	sum, err := d.Notify(context.Background(), "exam", item)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sum.GuildsNotified != 1 || sum.UsersNotified != 1 {
		t.Fatalf("summary = %+v, want 1 guild + 1 user", sum)
	}
	if len(led.records) != 2 {
		t.Fatalf("ledger rows = %d, want 2", len(led.records))
	}
	for _, rec := range led.records {
		if rec.CircularID != 501 {
			t.Fatalf("ledger circular = %d, want 501", rec.CircularID)
		}
	}
	if led.records[0].Type != circular.DestGuild || led.records[0].GuildID != 10 || led.records[0].ChannelID != 20 {
		t.Fatalf("guild record = %+v", led.records[0])
	}
	if led.records[1].Type != circular.DestDM || led.records[1].ChannelID != 99 {
		t.Fatalf("dm record = %+v", led.records[1])
	}
	// Per-destination custom message was injected before each send.
	if client.sent[0].description != "guild msg" || client.sent[1].description != "dm msg" {
		t.Fatalf("descriptions = %q, %q", client.sent[0].description, client.sent[1].description)
	}
}

func TestNotifyPrunesGoneDestinations(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.guildErr[10] = platform.ErrNotFound // kicked
	client.dmErr[99] = platform.ErrForbidden   // DMs closed: terminal
	reg := &fakeRegistry{
		guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20}},
		users:  []circular.UserSubscription{{UserID: 99}},
	}
	led := &fakeLedger{}
	d := newTestDispatcher(client, reg, led)

	sum, err := d.Notify(context.Background(), "exam", circular.Circular{ID: 1})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if reg.hasGuild(10) {
		t.Fatal("gone guild not pruned")
	}
	if reg.hasUser(99) {
		t.Fatal("closed-DM user not pruned")
	}
	if sum.GuildsPruned != 1 || sum.UsersPruned != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(led.records) != 0 {
		t.Fatalf("ledger rows for failed deliveries: %v", led.records)
	}
}

func TestNotifyGuildForbiddenResolveIsGuildLevelPrune(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.guildErr[10] = platform.ErrForbidden
	reg := &fakeRegistry{guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20}}}
	d := newTestDispatcher(client, reg, &fakeLedger{})

	_, _ = d.Notify(context.Background(), "exam", circular.Circular{ID: 1})
	if reg.hasGuild(10) {
		t.Fatal("guild-level forbidden must prune")
	}
}

func TestNotifyChannelForbiddenResolveKeepsSubscription(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.channelErr[20] = platform.ErrForbidden
	reg := &fakeRegistry{guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20}}}
	d := newTestDispatcher(client, reg, &fakeLedger{})

	sum, _ := d.Notify(context.Background(), "exam", circular.Circular{ID: 1})
	if !reg.hasGuild(10) {
		t.Fatal("channel-level forbidden must not prune")
	}
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestNotifySendForbiddenUsesFallbackChannel(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.sendErr[20] = platform.ErrForbidden
	client.channels[10] = []platform.Channel{
		{ID: 20, GuildID: 10},
		{ID: 21, GuildID: 10},
	}
	reg := &fakeRegistry{guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20, Message: "m"}}}
	led := &fakeLedger{}
	d := newTestDispatcher(client, reg, led)

	sum, _ := d.Notify(context.Background(), "exam", circular.Circular{ID: 7})
	if sum.GuildsNotified != 1 {
		t.Fatalf("summary = %+v, want fallback delivery", sum)
	}
	if !reg.hasGuild(10) {
		t.Fatal("fallback path must not prune")
	}
	// Notice first, then the notification, both on the fallback channel.
	if len(client.sent) != 2 || client.sent[0].channelID != 21 || client.sent[1].channelID != 21 {
		t.Fatalf("sent = %+v", client.sent)
	}
	if client.sent[0].title != "Error!" {
		t.Fatalf("first fallback message is not the notice: %+v", client.sent[0])
	}
	if len(led.records) != 1 || led.records[0].ChannelID != 21 {
		t.Fatalf("ledger = %+v, want fallback channel recorded", led.records)
	}
}

func TestNotifySendForbiddenNoFallbackKeepsSubscription(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.sendErr[20] = platform.ErrForbidden
	client.sendErr[21] = platform.ErrForbidden
	client.channels[10] = []platform.Channel{{ID: 20}, {ID: 21}}
	reg := &fakeRegistry{guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20}}}
	d := newTestDispatcher(client, reg, &fakeLedger{})

	sum, _ := d.Notify(context.Background(), "exam", circular.Circular{ID: 7})
	if sum.GuildsNotified != 0 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if !reg.hasGuild(10) {
		t.Fatal("recoverable permission failure must not prune")
	}
}

func TestNotifyIsolationAcrossDestinations(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	// Destination #2 of 5 fails with an unclassified error.
	client.userErr[2] = errors.New("gateway hiccup")
	reg := &fakeRegistry{users: []circular.UserSubscription{
		{UserID: 1}, {UserID: 2}, {UserID: 3}, {UserID: 4}, {UserID: 5},
	}}
	led := &fakeLedger{}
	d := newTestDispatcher(client, reg, led)

	sum, err := d.Notify(context.Background(), "exam", circular.Circular{ID: 1})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sum.UsersNotified != 4 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 4 notified, 1 failed", sum)
	}
	if len(led.records) != 4 {
		t.Fatalf("ledger rows = %d, want 4", len(led.records))
	}
	if reg.hasUser(2) == false {
		t.Fatal("unclassified error must not prune")
	}
}

func TestNotifyTargetSingleGuild(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	reg := &fakeRegistry{
		guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20, Message: "m"}},
		users:  []circular.UserSubscription{{UserID: 99}},
	}
	led := &fakeLedger{}
	d := newTestDispatcher(client, reg, led)

	err := d.NotifyTarget(context.Background(), "exam", circular.Circular{ID: 5}, Target{GuildID: 10})
	if err != nil {
		t.Fatalf("NotifyTarget: %v", err)
	}
	if len(client.sent) != 1 || client.sent[0].channelID != 20 {
		t.Fatalf("sent = %+v, want only the targeted guild", client.sent)
	}
	if len(led.records) != 1 || led.records[0].GuildID != 10 {
		t.Fatalf("ledger = %+v", led.records)
	}
}

func TestNotifyTargetFailureDoesNotPrune(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	client.dmErr[99] = platform.ErrForbidden
	reg := &fakeRegistry{users: []circular.UserSubscription{{UserID: 99}}}
	d := newTestDispatcher(client, reg, &fakeLedger{})

	err := d.NotifyTarget(context.Background(), "exam", circular.Circular{ID: 5}, Target{UserID: 99})
	if err == nil {
		t.Fatal("expected error back to the operator")
	}
	if !reg.hasUser(99) {
		t.Fatal("manual redelivery must never prune")
	}
}

func TestNotifyScoped(t *testing.T) {
	t.Parallel()
	client := newFakePlatform()
	reg := &fakeRegistry{
		guilds: []circular.GuildSubscription{{GuildID: 10, ChannelID: 20}},
		users:  []circular.UserSubscription{{UserID: 99}},
	}
	d := newTestDispatcher(client, reg, &fakeLedger{})

	sum, _ := d.NotifyScoped(context.Background(), "exam", circular.Circular{ID: 1}, ScopeUsersOnly)
	if sum.GuildsNotified != 0 || sum.UsersNotified != 1 {
		t.Fatalf("users-only summary = %+v", sum)
	}
}
