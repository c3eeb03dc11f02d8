package config

import (
	"fmt"
	"strings"
)

type Punishment int

const (
	PunishmentNone Punishment = iota
	PunishmentMute
	PunishmentKick
	PunishmentTempBan
	PunishmentBan
	PunishmentTempMute
)

var punishmentNames = map[Punishment]string{
	PunishmentNone:     "NONE",
	PunishmentMute:     "MUTE",
	PunishmentKick:     "KICK",
	PunishmentTempBan:  "TEMPBAN",
	PunishmentBan:      "BAN",
	PunishmentTempMute: "TEMPMUTE",
}

func (p Punishment) String() string {
	if s, ok := punishmentNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Punishment(%d)", int(p))
}

func (p Punishment) Valid() bool {
	_, ok := punishmentNames[p]
	return ok
}

// Temporary punishments carry an expiry and get reversed later.
func (p Punishment) Temporary() bool {
	return p == PunishmentTempBan || p == PunishmentTempMute
}

func ParsePunishment(raw string) (Punishment, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for p, name := range punishmentNames {
		if s == name {
			return p, nil
		}
	}
	return PunishmentNone, fmt.Errorf("%w: unknown punishment %q", ErrInvalidConfig, raw)
}

func (p *Punishment) UnmarshalText(text []byte) error {
	v, err := ParsePunishment(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Punishment) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
