package chat

import (
	"context"
	"log"

	"github.com/agentfolio/agentfolio/pkg/analytics"
	"github.com/agentfolio/agentfolio/pkg/observability"
)

// Widget answers visitor questions for one profile. FAQ entries are tried
// first; the completer covers everything else. A completer failure falls back
// to a canned reply so the visitor always gets an answer.
type Widget struct {
	matcher   *Matcher
	completer Completer
	persona   string
	fallback  string
}

// NewWidget creates a widget. completer may be nil, in which case unmatched
// messages get the fallback reply.
func NewWidget(entries []FAQEntry, completer Completer, persona, fallback string) *Widget {
	return &Widget{
		matcher:   NewMatcher(entries),
		completer: completer,
		persona:   persona,
		fallback:  fallback,
	}
}

// Respond answers a visitor message and records the exchange on the session
// tracker. A reply is always produced; generative failures degrade to the
// fallback rather than surfacing to the visitor.
func (w *Widget) Respond(ctx context.Context, tracker *analytics.Tracker, message string) string {
	if tracker != nil {
		tracker.TrackChatbotEvent(analytics.ChatSendMessage, message)
		tracker.TrackInteraction(analytics.InteractionChatbot)
	}

	reply, _ := w.reply(ctx, message)

	if tracker != nil {
		tracker.TrackChatbotEvent(analytics.ChatReceiveMessage, reply)
	}
	return reply
}

func (w *Widget) reply(ctx context.Context, message string) (string, string) {
	if answer, ok := w.matcher.Match(message); ok {
		observability.RecordChatReply("faq", "ok")
		return answer, "faq"
	}

	if w.completer == nil {
		observability.RecordChatReply("fallback", "ok")
		return w.fallback, "fallback"
	}

	answer, err := w.completer.Complete(ctx, w.persona, message)
	if err != nil {
		log.Printf("chat: completion failed: %v", err)
		observability.RecordChatReply("generative", "error")
		return w.fallback, "fallback"
	}
	observability.RecordChatReply("generative", "ok")
	return answer, "generative"
}
