package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"grillo-telebot/internal/grillo"
	"grillo-telebot/internal/mapping"
	"grillo-telebot/internal/session"
)

// Command is one parsed bot command.
type Command struct {
	TelegramID int64
	Name       string
	Args       []string
	// Mention is an HTML link to the sender, used in greetings.
	Mention string
}

// Reply is the text to send back. HTML replies use Telegram's HTML mode.
type Reply struct {
	Text string
	HTML bool
}

type commandFunc func(ctx context.Context, cmd Command) Reply

// Handler turns commands into replies. It holds no per-chat state; all of
// it lives in the session broker.
type Handler struct {
	broker   *session.Broker
	log      *zap.Logger
	tz       *time.Location
	commands map[string]commandFunc
}

func NewHandler(broker *session.Broker, tz *time.Location, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if tz == nil {
		tz = time.Local
	}
	h := &Handler{broker: broker, log: log, tz: tz}
	h.commands = map[string]commandFunc{
		"start":    h.start,
		"help":     h.help,
		"info":     h.help,
		"status":   h.status,
		"inlab":    h.status,
		"clockin":  h.clockIn,
		"login":    h.clockIn,
		"clockout": h.clockOut,
		"logout":   h.clockOut,
		"whoami":   h.whoami,
		"link":     h.link,
		"unlink":   h.unlink,
	}
	return h
}

// Handle runs cmd. ok is false for commands the bot does not know.
func (h *Handler) Handle(ctx context.Context, cmd Command) (reply Reply, ok bool) {
	fn, ok := h.commands[strings.ToLower(cmd.Name)]
	if !ok {
		return Reply{}, false
	}
	return fn(ctx, cmd), true
}

const helpText = "<b>Available commands:</b>\n" +
	"/help - Show this help message\n" +
	"/status [location] - Check current lab status\n" +
	"/clockin [location] - Clock in to the lab\n" +
	"/clockout &lt;summary&gt; - Clock out from the lab\n" +
	"/whoami - Show your linked lab account\n"

const adminHelpText = "\n<b>Admin commands:</b>\n" +
	"/clockin &lt;account&gt; [location] - Clock someone in\n" +
	"/link &lt;telegram id&gt; &lt;account&gt; - Link a Telegram user\n" +
	"/unlink &lt;telegram id&gt; - Remove a link\n"

func (h *Handler) help(ctx context.Context, cmd Command) Reply {
	return Reply{Text: helpText, HTML: true}
}

func (h *Handler) start(ctx context.Context, cmd Command) Reply {
	var status string
	if !h.broker.Mapper().IsMapped(cmd.TelegramID) {
		c, err := h.broker.Client(ctx, cmd.TelegramID)
		switch {
		case err == nil:
			status = fmt.Sprintf("\n<b>Successfully linked your account to %s!</b>\n",
				html.EscapeString(c.Account().DisplayName()))
		case errors.Is(err, mapping.ErrNotFound):
			status = "\n<b>Not authenticated</b>\n" +
				"Add your Telegram account to your lab profile, then send /start again.\n"
		default:
			h.log.Warn("start: discovery failed", zap.Int64("telegram_id", cmd.TelegramID), zap.Error(err))
			status = "\n<b>Could not reach the lab service.</b> Send /start again in a moment.\n"
		}
	}

	mention := cmd.Mention
	if mention == "" {
		mention = "there"
	}
	text := fmt.Sprintf("🦗 <b>Welcome to Grillo Bot, %s!</b>\n%s\n%s", mention, status, helpText)
	return Reply{Text: text, HTML: true}
}

func (h *Handler) status(ctx context.Context, cmd Command) Reply {
	locationID := strings.Join(cmd.Args, " ")
	if locationID == "" {
		locationID = grillo.DefaultLocation
	}
	loc, err := h.broker.Reader(ctx, cmd.TelegramID).Location(ctx, locationID)
	if err != nil {
		return h.failure(cmd, "fetching status", err)
	}
	return Reply{Text: renderStatus(loc, h.tz), HTML: true}
}

// clockIn accepts "/clockin [location]" from members. For administrators
// the first argument names the account to clock in, followed by an
// optional location. A member passing an account is refused.
func (h *Handler) clockIn(ctx context.Context, cmd Command) Reply {
	c, err := h.broker.Authenticated(ctx, cmd.TelegramID)
	if err != nil {
		return h.failure(cmd, "clocking in", err)
	}

	var res *grillo.ClockInResult
	target := c.Account().ID
	switch {
	case len(cmd.Args) >= 1 && c.IsAdmin(), len(cmd.Args) >= 2:
		target = cmd.Args[0]
		res, err = c.ClockInFor(ctx, target, strings.Join(cmd.Args[1:], " "))
	default:
		res, err = c.ClockIn(ctx, strings.Join(cmd.Args, " "))
	}
	if err != nil {
		return h.failure(cmd, "clocking in", err)
	}

	where := res.Location
	if where == "" {
		where = "the lab"
	}
	h.log.Info("clocked in",
		zap.Int64("telegram_id", cmd.TelegramID),
		zap.String("account", target),
		zap.String("location", where))

	if target != c.Account().ID {
		return Reply{Text: fmt.Sprintf("✅ Clocked %s in to %s!", target, where)}
	}
	return Reply{Text: fmt.Sprintf("✅ Clocked in to %s!", where)}
}

const clockOutUsage = "❌ Please provide a summary of your work.\nUsage: /clockout <summary>"

func (h *Handler) clockOut(ctx context.Context, cmd Command) Reply {
	summary := strings.Join(cmd.Args, " ")
	if strings.TrimSpace(summary) == "" {
		return Reply{Text: clockOutUsage}
	}
	c, err := h.broker.Authenticated(ctx, cmd.TelegramID)
	if err != nil {
		return h.failure(cmd, "clocking out", err)
	}
	audit, err := c.ClockOut(ctx, summary)
	if err != nil {
		return h.failure(cmd, "clocking out", err)
	}
	return Reply{Text: fmt.Sprintf("✅ Clocked out successfully! You were in the lab for %s.",
		formatDuration(audit.Duration()))}
}

func (h *Handler) whoami(ctx context.Context, cmd Command) Reply {
	c, err := h.broker.Authenticated(ctx, cmd.TelegramID)
	if err != nil {
		return h.failure(cmd, "looking up your account", err)
	}
	acc := c.Account()
	text := fmt.Sprintf("👤 You are linked to <b>%s</b> (<code>%s</code>).",
		html.EscapeString(acc.DisplayName()), html.EscapeString(acc.ID))
	if acc.IsAdmin() {
		text += "\n🛠 You are a lab administrator.\n" + adminHelpText
	}
	return Reply{Text: text, HTML: true}
}

func (h *Handler) link(ctx context.Context, cmd Command) Reply {
	if len(cmd.Args) != 2 {
		return Reply{Text: "Usage: /link <telegram id> <account>"}
	}
	if r, ok := h.requireAdmin(ctx, cmd, "linking a user"); !ok {
		return r
	}
	target, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return Reply{Text: "❌ The Telegram id must be a number."}
	}
	if err := h.broker.Mapper().Assign(target, cmd.Args[1]); err != nil {
		return h.failure(cmd, "linking a user", err)
	}
	return Reply{Text: fmt.Sprintf("🔗 Linked Telegram user %d to %s.", target, cmd.Args[1])}
}

func (h *Handler) unlink(ctx context.Context, cmd Command) Reply {
	if len(cmd.Args) != 1 {
		return Reply{Text: "Usage: /unlink <telegram id>"}
	}
	if r, ok := h.requireAdmin(ctx, cmd, "unlinking a user"); !ok {
		return r
	}
	target, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return Reply{Text: "❌ The Telegram id must be a number."}
	}
	if err := h.broker.Mapper().Unmap(target); err != nil {
		return h.failure(cmd, "unlinking a user", err)
	}
	return Reply{Text: fmt.Sprintf("✂️ Telegram user %d is no longer linked.", target)}
}

func (h *Handler) requireAdmin(ctx context.Context, cmd Command, action string) (Reply, bool) {
	c, err := h.broker.Authenticated(ctx, cmd.TelegramID)
	if err != nil {
		return h.failure(cmd, action, err), false
	}
	if !c.IsAdmin() {
		return h.failure(cmd, action, grillo.ErrPermissionDenied), false
	}
	return Reply{}, true
}

// failure collapses err into a short message: not authenticated, a
// specific business message, or try again.
func (h *Handler) failure(cmd Command, action string, err error) Reply {
	log := h.log.With(
		zap.Int64("telegram_id", cmd.TelegramID),
		zap.String("command", cmd.Name),
		zap.Error(err))

	var se *grillo.ServiceError
	switch {
	case errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, mapping.ErrNotFound):
		log.Info(action + ": not authenticated")
		return Reply{Text: "🔒 Not authenticated. Your Telegram account is not linked to a lab account; add it to your lab profile and send /start."}
	case errors.Is(err, grillo.ErrPermissionDenied):
		log.Warn(action + ": permission denied")
		return Reply{Text: "⛔ Only lab administrators can do that."}
	case errors.Is(err, grillo.ErrLocationNotFound):
		return Reply{Text: "❌ Location not found."}
	case errors.Is(err, grillo.ErrAlreadyClockedIn):
		return Reply{Text: "❌ You are already clocked in at another location. Clock out with a summary before switching."}
	case errors.Is(err, grillo.ErrNoActiveSession):
		return Reply{Text: "❌ You are not clocked in."}
	case errors.Is(err, grillo.ErrEmptySummary):
		return Reply{Text: clockOutUsage}
	case grillo.IsNetwork(err), errors.Is(err, mapping.ErrDiscoveryFailed):
		log.Warn(action + ": lab service unavailable")
		return Reply{Text: "⚠️ The lab service is not reachable right now, please try again."}
	case errors.As(err, &se):
		log.Info(action + ": rejected by lab service")
		return Reply{Text: "❌ " + se.Message}
	case errors.Is(err, grillo.ErrAccountNotFound):
		log.Warn(action + ": linked account is gone")
		return Reply{Text: "🔒 Not authenticated. Your Telegram account is linked to a lab account that no longer exists; ask a lab administrator to link you again."}
	default:
		log.Error(action + " failed")
		return Reply{Text: fmt.Sprintf("⚠️ Something went wrong while %s, please try again.", action)}
	}
}
