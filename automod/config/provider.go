package config

import (
	"context"
	"sync"
)

// Source of validated guild configuration. Returns nil (and no error) for guilds without configuration.
type Provider interface {
	GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error)
}

// Provider backed by an in-process map. Mostly useful for tests.
type MemProvider struct {
	lk     sync.RWMutex
	guilds map[string]*GuildConfig
}

var _ Provider = (*MemProvider)(nil)

func NewMemProvider() *MemProvider {
	return &MemProvider{
		guilds: make(map[string]*GuildConfig),
	}
}

// Validates and installs a guild's configuration, replacing any previous one.
func (p *MemProvider) Set(guildID string, gc *GuildConfig) error {
	gc.GuildID = guildID
	if err := gc.Validate(); err != nil {
		return err
	}
	p.lk.Lock()
	defer p.lk.Unlock()
	p.guilds[guildID] = gc
	return nil
}

func (p *MemProvider) GuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	p.lk.RLock()
	defer p.lk.RUnlock()
	return p.guilds[guildID], nil
}
