// Package notify resolves who hears about a task, words the message and fans
// it out through a chat sender.
package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/sheets"
	"github.com/mohans/remindx/tasks"
)

const (
	MembersTable = "members"

	// AdminTeam marks members who receive escalations.
	AdminTeam = "admin"
)

// members sheet columns
const (
	colChatID = iota
	colName
	colUsername
	colTeam
	colCustomName
	colWelcomed
)

// Member is one row of the members sheet.
type Member struct {
	ChatID     string
	Name       string
	Username   string
	Team       string // normalized
	CustomName string
	Welcomed   bool
}

// DisplayName prefers the name an admin assigned over the chat profile name.
func (m Member) DisplayName() string {
	if m.CustomName != "" {
		return m.CustomName
	}
	return m.Name
}

// Store is the part of the sheet client the directory uses.
type Store interface {
	ReadTable(ctx context.Context, name string) []sheets.Row
	AppendRow(ctx context.Context, table string, row []string) bool
}

// Directory answers membership questions from the members sheet. Changes to
// membership are made in the sheet by hand; Register only adds blank rows for
// people who wrote to the bot.
type Directory struct {
	store  Store
	admins []string
	log    logrus.FieldLogger
}

func NewDirectory(store Store, adminChatIDs []string, log logrus.FieldLogger) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{store: store, admins: adminChatIDs, log: log.WithField("component", "members")}
}

// Members returns every row with a chat id.
func (d *Directory) Members(ctx context.Context) []Member {
	rows := d.store.ReadTable(ctx, MembersTable)
	if len(rows) < 2 {
		return nil
	}
	out := make([]Member, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := Member{
			ChatID:     strings.TrimSpace(row.Cell(colChatID)),
			Name:       strings.TrimSpace(row.Cell(colName)),
			Username:   strings.TrimSpace(row.Cell(colUsername)),
			Team:       tasks.NormalizeTeam(row.Cell(colTeam)),
			CustomName: strings.TrimSpace(row.Cell(colCustomName)),
			Welcomed:   strings.EqualFold(strings.TrimSpace(row.Cell(colWelcomed)), "yes"),
		}
		if m.ChatID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MembersOf returns the members of team. The all-teams sentinel selects
// every member that has been assigned a team.
func (d *Directory) MembersOf(ctx context.Context, team string) []Member {
	team = tasks.NormalizeTeam(team)
	if team == "" {
		return nil
	}
	var out []Member
	for _, m := range d.Members(ctx) {
		if m.Team == "" {
			continue
		}
		if team == tasks.AllTeams || m.Team == team {
			out = append(out, m)
		}
	}
	out = dedupe(out)
	if len(out) == 0 {
		d.log.WithField("team", team).Warn("no members found for team")
	}
	return out
}

// Admins returns the configured admin chats plus every member of the admin
// team.
func (d *Directory) Admins(ctx context.Context) []Member {
	known := map[string]Member{}
	var out []Member
	for _, m := range d.Members(ctx) {
		known[m.ChatID] = m
		if m.Team == AdminTeam {
			out = append(out, m)
		}
	}
	for _, id := range d.admins {
		if m, ok := known[id]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, Member{ChatID: id, Team: AdminTeam})
	}
	out = dedupe(out)
	if len(out) == 0 {
		d.log.Warn("no administrators configured")
	}
	return out
}

// Find looks a member up by chat id.
func (d *Directory) Find(ctx context.Context, chatID string) (Member, bool) {
	for _, m := range d.Members(ctx) {
		if m.ChatID == chatID {
			return m, true
		}
	}
	return Member{}, false
}

// Register appends a member row with no team. The custom name starts out as
// the profile name so an admin only has to fill in the team.
func (d *Directory) Register(ctx context.Context, m Member) bool {
	if m.ChatID == "" {
		return false
	}
	if _, ok := d.Find(ctx, m.ChatID); ok {
		return true
	}
	custom := m.CustomName
	if custom == "" {
		custom = m.Name
	}
	ok := d.store.AppendRow(ctx, MembersTable, []string{m.ChatID, m.Name, m.Username, "", custom, "No"})
	if ok {
		d.log.WithFields(logrus.Fields{"chat_id": m.ChatID, "username": m.Username}).Info("registered new member")
	}
	return ok
}

func dedupe(in []Member) []Member {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, m := range in {
		if seen[m.ChatID] {
			continue
		}
		seen[m.ChatID] = true
		out = append(out, m)
	}
	return out
}
