package event

// Member is a user's participation in one guild, as resolved by the platform.
type Member struct {
	GuildID string
	UserID  string
	Bot     bool
	Roles   []Role
}

type Role struct {
	ID   string
	Name string
}

func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}
