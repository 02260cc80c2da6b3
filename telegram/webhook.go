package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mohans/remindx/journal"
	"github.com/mohans/remindx/notify"
	"github.com/mohans/remindx/reminder"
)

// Replies to button presses and to strangers.
const (
	ReplyDone            = "✔️ انجام شد"
	ReplyNotYet          = "⏳ هنوز انجام نشده"
	ReplyTaskNotFound    = "❌ TaskID پیدا نشد"
	ReplyInvalidCallback = "❗ callback نامعتبر"
	ReplyUnregistered    = "👋 شما ثبت نشده\u200cاید.\nبا مدیر سیستم تماس بگیرید."
)

// TaskMarker changes a task's completion status.
type TaskMarker interface {
	MarkTaskDone(ctx context.Context, id string) bool
	MarkTaskNotDone(ctx context.Context, id string) bool
}

// MemberRegistry looks up and registers chat users.
type MemberRegistry interface {
	Find(ctx context.Context, chatID string) (notify.Member, bool)
	Register(ctx context.Context, m notify.Member) bool
}

// Messenger is the outbound half of the bot.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string, buttons []notify.Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// PassQueue schedules a reminder pass and returns its id. It returns
// reminder.ErrPassQueued when a pass is already waiting.
type PassQueue interface {
	EnqueuePass(ctx context.Context, trigger string) (string, error)
}

// PassLog lists recent passes.
type PassLog interface {
	Recent(ctx context.Context, limit int) ([]journal.PassRecord, error)
}

type WebhookOptions struct {
	Tasks   TaskMarker
	Members MemberRegistry // optional
	Bot     Messenger
	Passes  PassQueue // optional
	Journal PassLog   // optional
	Version string
	Logger  logrus.FieldLogger
}

// Webhook serves the Bot API webhook plus a small operator surface for
// reminder passes.
type Webhook struct {
	tasks   TaskMarker
	members MemberRegistry
	bot     Messenger
	passes  PassQueue
	journal PassLog
	version string
	log     logrus.FieldLogger
}

func NewWebhook(opts WebhookOptions) *Webhook {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Webhook{
		tasks:   opts.Tasks,
		members: opts.Members,
		bot:     opts.Bot,
		passes:  opts.Passes,
		journal: opts.Journal,
		version: version,
		log:     log.WithField("component", "webhook"),
	}
}

// Router returns the HTTP routes:
//
//	POST /webhook  Telegram updates
//	POST /passes   enqueue a manual reminder pass
//	GET  /passes   recent passes from the journal
//	GET  /         health
func (h *Webhook) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	r.HandleFunc("/webhook", h.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/passes", h.enqueuePass).Methods(http.MethodPost)
	r.HandleFunc("/passes", h.listPasses).Methods(http.MethodGet)
	r.HandleFunc("/", h.health).Methods(http.MethodGet)
	return r
}

type chat struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    chat     `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

// Update is the subset of a Bot API update the bot reacts to.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

func (h *Webhook) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		h.log.Warnf("invalid update payload: %v", err)
		http.Error(w, "Invalid update payload", http.StatusBadRequest)
		return
	}
	switch {
	case u.CallbackQuery != nil:
		h.handleCallback(r.Context(), u.CallbackQuery)
	case u.Message != nil:
		h.handleMessage(r.Context(), u.Message)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Webhook) handleCallback(ctx context.Context, cq *callbackQuery) {
	chatID := cq.From.ID
	if cq.Message != nil {
		chatID = cq.Message.Chat.ID
	}
	reply := h.resolveCallback(ctx, cq.Data)
	l := h.log.WithFields(logrus.Fields{"chat_id": chatID, "data": cq.Data})
	l.Info("callback received")

	if cq.ID != "" {
		if err := h.bot.AnswerCallback(ctx, cq.ID, ""); err != nil {
			l.Warnf("answer callback: %v", err)
		}
	}
	if err := h.bot.SendMessage(ctx, strconv.FormatInt(chatID, 10), reply, nil); err != nil {
		l.Errorf("reply to callback: %v", err)
	}
}

func (h *Webhook) resolveCallback(ctx context.Context, data string) string {
	if id, ok := strings.CutPrefix(data, reminder.ActionDone); ok && id != "" {
		if h.tasks.MarkTaskDone(ctx, id) {
			return ReplyDone
		}
		return ReplyTaskNotFound
	}
	if id, ok := strings.CutPrefix(data, reminder.ActionNotYet); ok && id != "" {
		if h.tasks.MarkTaskNotDone(ctx, id) {
			return ReplyNotYet
		}
		return ReplyTaskNotFound
	}
	return ReplyInvalidCallback
}

// handleMessage registers people who write to the bot without being in the
// members sheet. Anything else is ignored.
func (h *Webhook) handleMessage(ctx context.Context, m *message) {
	if h.members == nil || m.Chat.ID == 0 {
		return
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if _, ok := h.members.Find(ctx, chatID); ok {
		return
	}
	h.members.Register(ctx, notify.Member{ChatID: chatID, Name: m.Chat.FirstName, Username: m.Chat.Username})
	if err := h.bot.SendMessage(ctx, chatID, ReplyUnregistered, nil); err != nil {
		h.log.WithField("chat_id", chatID).Errorf("reply to unregistered user: %v", err)
	}
}

func (h *Webhook) enqueuePass(w http.ResponseWriter, r *http.Request) {
	if h.passes == nil {
		http.Error(w, "Pass queue not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := h.passes.EnqueuePass(r.Context(), "manual")
	if errors.Is(err, reminder.ErrPassQueued) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Errorf("enqueue manual pass: %v", err)
		http.Error(w, "Failed to enqueue pass", http.StatusInternalServerError)
		return
	}
	h.log.WithField("pass_id", id).Info("manual pass enqueued")
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

type passView struct {
	ID         string          `json:"id"`
	Trigger    string          `json:"trigger"`
	Status     journal.Status  `json:"status"`
	Error      string          `json:"error,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (h *Webhook) listPasses(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "Journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		h.log.Errorf("list passes: %v", err)
		http.Error(w, "Failed to list passes", http.StatusInternalServerError)
		return
	}
	out := make([]passView, 0, len(recs))
	for _, rec := range recs {
		v := passView{
			ID:         rec.ID,
			Trigger:    rec.Trigger,
			Status:     rec.Status,
			CreatedAt:  rec.CreatedAt,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		}
		if rec.ErrorMsg != nil {
			v.Error = *rec.ErrorMsg
		}
		if rec.ReportJSON != nil && json.Valid([]byte(*rec.ReportJSON)) {
			v.Report = json.RawMessage(*rec.ReportJSON)
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Webhook) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "remindx running", "version": h.version})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Webhook) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
