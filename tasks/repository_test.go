package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/remindx/logging"
	"github.com/mohans/remindx/sheets"
	"github.com/mohans/remindx/sheets/sheetstest"
	"github.com/mohans/remindx/stage"
)

var tehran = time.FixedZone("IRST", 3*3600+30*60)

var header = []string{
	"TaskID", "Team", "Date_EN", "Date_FA", "DayName", "Time", "Title", "Type", "Comment", "Status",
	"PRE2", "DUE", "Over1", "Over2", "Over3", "Over4", "Over5", "Escalated", "Done", "Reminders",
}

func taskRow(id, team, dateFA, title, status, done, reminders string) []string {
	r := make([]string, 20)
	r[0], r[1], r[3], r[6], r[9], r[18], r[19] = id, team, dateFA, title, status, done, reminders
	return r
}

func newRepo(t *testing.T, store Store) *Repository {
	t.Helper()
	// 1404/07/23
	now := time.Date(2025, time.October, 15, 9, 0, 0, 0, tehran)
	return NewRepository(store, Options{
		Location: tehran,
		Now:      func() time.Time { return now },
		Logger:   logging.Discard(),
	})
}

func TestLoadOpenTasksConvertsRows(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable,
		header,
		taskRow("T1", " Production ", "1404/07/25", "Teaser", "", "", ""),
		taskRow("T2", "Digital", "۱۴۰۴/۰۷/۲۰", "Post", "", "", `{"overdue_days":[1,2]}`),
		taskRow("T3", "Digital", "1404/07/23", "Reel", "Done", "", ""),
		taskRow("T4", "Digital", "1404/07/23", "Story", "", "YES", ""),
		taskRow("T5", "Digital", "someday", "Broken date", "", "", ""),
		taskRow("T6", "Digital", "1404/07/23", "", "", "", ""),
		taskRow("", "Digital", "1404/07/23", "No id", "", "", ""),
		taskRow("T7", "Digital", "1404/07/23", "Corrupt state", "", "", `{"overdue_days":`),
	)
	repo := newRepo(t, mem)

	open := repo.LoadOpenTasks(context.Background())
	ids := make([]string, 0, len(open))
	for _, tk := range open {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"T1", "T2", "T7"}, ids)

	t1 := open[0]
	assert.Equal(t, "production", t1.Team)
	assert.Equal(t, -2, t1.DelayDays)
	assert.Equal(t, 2, t1.Row)
	assert.True(t, time.Date(2025, time.October, 17, 0, 0, 0, 0, time.UTC).Equal(t1.Deadline))

	t2 := open[1]
	assert.Equal(t, 3, t2.DelayDays)
	assert.True(t, t2.Reminders.Has(stage.OverdueDay(1)))
	assert.False(t, t2.Reminders.Has(stage.OverdueDay(3)))

	assert.True(t, open[2].Reminders.IsZero(), "corrupt state degrades to empty")
}

func TestMalformedDeadlineIsAbsentNotNull(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable, header, taskRow("T5", "Digital", "1404/13/40", "Bad", "", "", ""))
	repo := newRepo(t, mem)

	assert.Empty(t, repo.LoadOpenTasks(context.Background()))
	assert.Empty(t, repo.LoadAll(context.Background()))

	found, ok := repo.FindByID(context.Background(), "T5", false)
	require.True(t, ok, "row is still addressable for status writes")
	assert.True(t, found.Deadline.IsZero())
}

func TestGregorianFallback(t *testing.T) {
	mem := sheetstest.NewMemory()
	r1 := taskRow("T1", "Digital", "", "Slash", "", "", "")
	r1[2] = "10/16/2025"
	r2 := taskRow("T2", "Digital", "", "Instant", "", "", "")
	r2[2] = "2025-10-13T20:30:00.000Z" // 00:00 on the 14th in Tehran
	mem.Set(sheets.TasksTable, header, r1, r2)

	open := newRepo(t, mem).LoadOpenTasks(context.Background())
	require.Len(t, open, 2)
	assert.Equal(t, -1, open[0].DelayDays)
	assert.Equal(t, 1, open[1].DelayDays)
}

func TestSchemaFollowsHeaderNames(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable,
		[]string{"Title", "Task ID", "date_fa", "TEAM", "reminder state", "Done"},
		[]string{"Shoot", "X1", "1404/07/23", "AI  Production", `{"deadline":"2025-10-15"}`, ""},
	)
	open := newRepo(t, mem).LoadOpenTasks(context.Background())
	require.Len(t, open, 1)
	assert.Equal(t, "X1", open[0].ID)
	assert.Equal(t, "ai production", open[0].Team)
	assert.Equal(t, 0, open[0].DelayDays)
	assert.True(t, open[0].Reminders.Has(stage.StageDeadline))
}

func TestTasksForTeam(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable,
		header,
		taskRow("T1", "Digital", "1404/07/23", "Today", "", "", ""),
		taskRow("T2", "DIGITAL ", "1404/07/27", "In four days", "", "", ""),
		taskRow("T3", "Production", "1404/07/23", "Other team", "", "", ""),
		taskRow("T4", "ALL", "1404/07/21", "Everyone", "", "", ""),
		taskRow("T5", "digital", "1404/07/23", "Finished", "تحویل شد", "", ""),
	)
	repo := newRepo(t, mem)
	ctx := context.Background()

	ids := func(ts []Task) []string {
		var out []string
		for _, tk := range ts {
			out = append(out, tk.ID)
		}
		return out
	}
	assert.Equal(t, []string{"T1"}, ids(repo.TasksForTeam(ctx, "digital", DueToday)))
	assert.Equal(t, []string{"T1", "T2"}, ids(repo.TasksForTeam(ctx, "Digital", UpcomingWithin(7))))
	assert.Equal(t, []string{"T1", "T2", "T4"}, ids(repo.TasksForTeam(ctx, "digital", NotDone)))
	assert.Equal(t, []string{"T4"}, ids(repo.TasksForTeam(ctx, "digital", Overdue)))
	assert.Len(t, repo.TasksForTeam(ctx, "all", nil), 5)
	assert.Empty(t, repo.TasksForTeam(ctx, "", nil))
}

func TestMarkTaskDoneAndNotDone(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable, header, taskRow("T1", "Digital", "1404/07/23", "Reel", "", "", ""))
	repo := newRepo(t, mem)
	ctx := context.Background()

	require.True(t, repo.MarkTaskDone(ctx, "T1"))
	assert.Equal(t, "Done", mem.Cell(sheets.TasksTable, 2, 10))
	assert.Equal(t, "YES", mem.Cell(sheets.TasksTable, 2, 19))
	assert.Empty(t, repo.LoadOpenTasks(ctx))
	assert.Positive(t, mem.Invalidated)

	require.True(t, repo.MarkTaskNotDone(ctx, "T1"))
	assert.Equal(t, "Not Done", mem.Cell(sheets.TasksTable, 2, 10))
	assert.Len(t, repo.LoadOpenTasks(ctx), 1)

	assert.False(t, repo.MarkTaskDone(ctx, "missing"))
	mem.FailWrites = true
	assert.False(t, repo.MarkTaskDone(ctx, "T1"))
}

func TestMarkTaskDoneWithoutDoneColumn(t *testing.T) {
	// "Reminders" is named at the default position of Done, so Done is absent.
	h := append([]string(nil), header...)
	h[18], h[19] = "Reminders", "Notes"
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable, h, taskRow("T1", "Digital", "1404/07/23", "Reel", "", "", ""))
	repo := newRepo(t, mem)
	ctx := context.Background()

	require.True(t, repo.MarkTaskDone(ctx, "T1"))
	assert.Equal(t, "Done", mem.Cell(sheets.TasksTable, 2, 10))
	assert.Empty(t, mem.Cell(sheets.TasksTable, 2, 19))
	assert.Empty(t, repo.LoadOpenTasks(ctx))

	require.True(t, repo.MarkTaskNotDone(ctx, "T1"))
	assert.Len(t, repo.LoadOpenTasks(ctx), 1)
}

// columnFailStore refuses writes to one sheet column.
type columnFailStore struct {
	*sheetstest.Memory
	col int
}

func (s *columnFailStore) WriteCell(ctx context.Context, table string, row, col int, value string) bool {
	if col == s.col {
		return false
	}
	return s.Memory.WriteCell(ctx, table, row, col, value)
}

func TestMarkTaskPartialWrite(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable, header, taskRow("T1", "Digital", "1404/07/23", "Reel", "Done", "YES", ""))
	repo := newRepo(t, &columnFailStore{Memory: mem, col: 10})
	ctx := context.Background()

	// the flag clears but the status still says Done, so the task stays done
	assert.False(t, repo.MarkTaskNotDone(ctx, "T1"))
	assert.Empty(t, mem.Cell(sheets.TasksTable, 2, 19))
	assert.Empty(t, repo.LoadOpenTasks(ctx))

	mem.Set(sheets.TasksTable, header, taskRow("T2", "Digital", "1404/07/23", "Reel", "", "", ""))
	// the raised flag alone makes the task done
	assert.True(t, repo.MarkTaskDone(ctx, "T2"))
	assert.Equal(t, "YES", mem.Cell(sheets.TasksTable, 2, 19))
	assert.Empty(t, mem.Cell(sheets.TasksTable, 2, 10))
	assert.Empty(t, repo.LoadOpenTasks(ctx))
}

func TestWriteReminders(t *testing.T) {
	mem := sheetstest.NewMemory()
	mem.Set(sheets.TasksTable, header, taskRow("T1", "Digital", "1404/07/22", "Reel", "", "", ""))
	repo := newRepo(t, mem)
	ctx := context.Background()

	tk, ok := repo.FindByID(ctx, "T1", true)
	require.True(t, ok)
	require.True(t, repo.WriteReminders(ctx, tk, stage.State{OverdueDays: []int{1, 2}}))
	assert.Equal(t, `{"overdue_days":[1,2]}`, mem.Cell(sheets.TasksTable, 2, 20))

	reloaded := repo.LoadOpenTasks(ctx)
	require.Len(t, reloaded, 1)
	assert.True(t, reloaded[0].Reminders.Has(stage.OverdueDay(1)))
	assert.False(t, reloaded[0].Reminders.Has(stage.OverdueDay(3)))
}

func TestIsDone(t *testing.T) {
	assert.True(t, IsDone("YES", ""))
	assert.True(t, IsDone(" y ", ""))
	assert.True(t, IsDone("", "Done"))
	assert.True(t, IsDone("", "انجام شد"))
	assert.True(t, IsDone("", "تحویل شد"))
	assert.False(t, IsDone("", "Not Done"))
	assert.False(t, IsDone("", "تحویل نشده"))
	assert.False(t, IsDone("no", "in progress"))
	assert.False(t, IsDone("", ""))
}

func TestNormalizeTeam(t *testing.T) {
	assert.Equal(t, "ai production", NormalizeTeam("  AI   Production "))
	assert.Equal(t, "دیجیتال", NormalizeTeam("ديجيتال"))
	assert.Equal(t, AllTeams, NormalizeTeam("همه"))
	assert.True(t, TeamMatches("ALL", "digital"))
	assert.True(t, TeamMatches("digital", "All"))
	assert.False(t, TeamMatches("digital", "production"))
}
