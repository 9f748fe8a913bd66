package relay

import (
	"context"
	"strings"

	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Commands is the bot menu published at startup.
var Commands = []transport.BotCommand{
	{Command: "start", Description: "Получать уведомления в этот чат"},
	{Command: "notifications", Description: "Проверить уведомления сейчас"},
}

// Router maps chat updates to Loop intents. It never touches loop state
// itself.
type Router struct {
	loop *Loop
	log  logx.Logger
}

func NewRouter(loop *Loop, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{loop: loop, log: log.With(logx.String("comp", "router"))}
}

// Run routes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("router started")
	defer r.log.Info("router stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

// Route handles one update. /start registers the sender's chat; /notifications
// or the keyboard button request a manual check; anything else is ignored.
func (r *Router) Route(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	var err error
	switch command(msg.Text) {
	case "start":
		err = r.loop.Register(ctx, msg.Target())
	case "notifications":
		err = r.loop.ManualCheck(ctx, msg.Target())
	default:
		return
	}
	if err != nil {
		r.log.Warn("intent not queued", logx.String("text", msg.Text), logx.Err(err))
		return
	}
	r.log.Debug("intent queued",
		logx.String("text", msg.Text),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
	)
}

// command returns the command word of text ("" if none). The keyboard
// button label is an alias of /notifications.
func command(text string) string {
	text = strings.TrimSpace(text)
	if text == ButtonCheck {
		return "notifications"
	}
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}
