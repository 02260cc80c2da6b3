package notify

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/sheets"
)

const MessagesTable = "Messages"

// Fallback is rendered when the Messages sheet has no row for a type.
const Fallback = "—"

// Fields are substituted into "{KEY}" placeholders.
type Fields map[string]string

// TableReader reads one sheet.
type TableReader interface {
	ReadTable(ctx context.Context, name string) []sheets.Row
}

// Templates picks message wording from the Messages sheet (columns: type,
// text). Several rows may share a type; one is chosen at random per render.
type Templates struct {
	store TableReader
	log   logrus.FieldLogger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTemplates builds a template source. A nil rnd is seeded from the clock.
func NewTemplates(store TableReader, rnd *rand.Rand, log logrus.FieldLogger) *Templates {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Templates{store: store, rnd: rnd, log: log.WithField("component", "templates")}
}

// Render returns a random template of the given type with fields filled in.
func (t *Templates) Render(ctx context.Context, kind string, fields Fields) string {
	choices := t.load(ctx, kind)
	if len(choices) == 0 {
		t.log.WithField("type", kind).Error("no message template for type")
		return Fallback
	}
	t.mu.Lock()
	text := choices[t.rnd.Intn(len(choices))]
	t.mu.Unlock()
	return substitute(text, fields)
}

func (t *Templates) load(ctx context.Context, kind string) []string {
	rows := t.store.ReadTable(ctx, MessagesTable)
	if len(rows) < 2 {
		return nil
	}
	var out []string
	for _, row := range rows[1:] {
		typ, text := strings.TrimSpace(row.Cell(0)), row.Cell(1)
		if typ == kind && strings.TrimSpace(text) != "" {
			out = append(out, text)
		}
	}
	return out
}

func substitute(text string, fields Fields) string {
	if len(fields) == 0 {
		return text
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fields[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
