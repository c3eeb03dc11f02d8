package platform

import (
	"context"
	"slices"
	"sync"

	"github.com/modwarden/warden/automod/event"
)

type MockCall struct {
	Op         string
	GuildID    string
	UserID     string
	RoleID     string
	ChannelID  string
	Reason     string
	MessageIDs []string
	Content    string
}

// In-memory platform which records every call, for tests.
type MockPlatform struct {
	lk      sync.Mutex
	members map[string]*event.Member
	calls   []MockCall
	// op name ("kick", "delete", ...) to the error it should fail with
	failures map[string]error
	// channel IDs whose deletes fail
	failChannels map[string]error
}

var _ Platform = (*MockPlatform)(nil)

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		members:      make(map[string]*event.Member),
		failures:     make(map[string]error),
		failChannels: make(map[string]error),
	}
}

func (p *MockPlatform) AddMember(m *event.Member) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.members[memberKey(m.GuildID, m.UserID)] = m
}

func (p *MockPlatform) RemoveMember(guildID, userID string) {
	p.lk.Lock()
	defer p.lk.Unlock()
	delete(p.members, memberKey(guildID, userID))
}

func (p *MockPlatform) FailOp(op string, err error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.failures[op] = err
}

func (p *MockPlatform) FailChannel(channelID string, err error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.failChannels[channelID] = err
}

// Recorded calls, optionally filtered to the given ops.
func (p *MockPlatform) Calls(ops ...string) []MockCall {
	p.lk.Lock()
	defer p.lk.Unlock()
	var out []MockCall
	for _, c := range p.calls {
		if len(ops) == 0 || slices.Contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

func (p *MockPlatform) Reset() {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.calls = nil
}

func (p *MockPlatform) record(c MockCall) error {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.calls = append(p.calls, c)
	if err, ok := p.failures[c.Op]; ok {
		if c.UserID != "" {
			return &EnforcementError{Op: c.Op, GuildID: c.GuildID, UserID: c.UserID, Err: err}
		}
		return err
	}
	if err, ok := p.failChannels[c.ChannelID]; ok && c.ChannelID != "" {
		return err
	}
	return nil
}

func (p *MockPlatform) ResolveMember(ctx context.Context, guildID, userID string) (*event.Member, error) {
	p.lk.Lock()
	defer p.lk.Unlock()
	if err, ok := p.failures["resolve"]; ok {
		return nil, err
	}
	m, ok := p.members[memberKey(guildID, userID)]
	if !ok {
		return nil, nil
	}
	return m, nil
}

func (p *MockPlatform) Mute(ctx context.Context, guildID, userID, roleID, reason string) error {
	return p.record(MockCall{Op: "mute", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason})
}

func (p *MockPlatform) Unmute(ctx context.Context, guildID, userID, roleID, reason string) error {
	return p.record(MockCall{Op: "unmute", GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason})
}

func (p *MockPlatform) Kick(ctx context.Context, guildID, userID, reason string) error {
	return p.record(MockCall{Op: "kick", GuildID: guildID, UserID: userID, Reason: reason})
}

func (p *MockPlatform) Ban(ctx context.Context, guildID, userID, reason string) error {
	return p.record(MockCall{Op: "ban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (p *MockPlatform) Unban(ctx context.Context, guildID, userID, reason string) error {
	return p.record(MockCall{Op: "unban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (p *MockPlatform) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	return p.record(MockCall{Op: "delete", ChannelID: channelID, MessageIDs: slices.Clone(messageIDs)})
}

func (p *MockPlatform) SendMessage(ctx context.Context, channelID, content string) error {
	return p.record(MockCall{Op: "send", ChannelID: channelID, Content: content})
}
