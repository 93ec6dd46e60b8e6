package chat

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bosley/voxchat/backend"
)

const (
	WelcomeTemplate   = "Welcome back, %s! You are now logged in."
	NavigateTemplate  = "Taking you to %s."
	SuggestionsMarker = "Here are some suggestions:"
	HeardTemplate     = "You said: \"%s\"\n"
	FallbackText      = "Request processed successfully."

	// RejectedFallback is shown when the backend rejects without a message.
	RejectedFallback = "The assistant could not process your request."
)

const (
	intentLogin       = "login"
	intentNavigate    = "navigate"
	intentSuggestions = "suggestions"
)

// Reply is a normalized assistant answer.
type Reply struct {
	Text        string
	Suggestions []string
}

type draft struct {
	resp        *backend.Response
	heard       string
	text        string
	suggestions []string
}

type rule struct {
	name  string
	apply func(*draft)
}

// rules run in order, exactly once per response.
var rules = []rule{
	{"capture-heard", captureHeard},
	{"nested-result", nestedResult},
	{"intent-rewrite", intentRewrite},
	{"top-level-message", topLevelMessage},
	{"fallback", fallback},
	{"quote-heard", quoteHeard},
}

// Normalize resolves a backend response into display text and suggestions.
// The same response always yields the same Reply.
func Normalize(resp *backend.Response) Reply {
	d := &draft{resp: resp}
	for _, r := range rules {
		r.apply(d)
	}
	return Reply{
		Text:        d.text,
		Suggestions: d.suggestions,
	}
}

func captureHeard(d *draft) {
	d.heard = strings.TrimSpace(d.resp.Heard())
}

func nestedResult(d *draft) {
	outcome, ok := d.resp.Outcome()
	if !ok {
		return
	}
	if msg, ok := outcome.Message.Get(); ok {
		d.text = msg
	}
	if list, ok := outcome.Suggestions.Get(); ok {
		d.suggestions = slices.Clone(list)
	}
}

func intentRewrite(d *draft) {
	if d.resp == nil || !d.resp.Result.Valid {
		return
	}
	intent, ok := d.resp.Result.Value.Intent.Get()
	if !ok {
		return
	}
	outcome, _ := d.resp.Outcome()

	switch intent {
	case intentLogin:
		if email, ok := outcome.User.Value.Email.Get(); ok && outcome.User.Valid {
			d.text = fmt.Sprintf(WelcomeTemplate, email)
		}
	case intentNavigate:
		if route, ok := outcome.Route.Get(); ok {
			d.text = fmt.Sprintf(NavigateTemplate, route)
		}
	case intentSuggestions:
		if len(d.suggestions) == 0 {
			return
		}
		if d.text == "" {
			d.text = SuggestionsMarker
		} else {
			d.text = SuggestionsMarker + "\n" + d.text
		}
	}
}

func topLevelMessage(d *draft) {
	if d.text != "" || d.resp == nil {
		return
	}
	if _, nested := d.resp.Outcome(); nested {
		return
	}
	if msg, ok := d.resp.Message.Get(); ok {
		d.text = msg
	}
}

func fallback(d *draft) {
	if d.text == "" {
		d.text = FallbackText
	}
}

func quoteHeard(d *draft) {
	if d.heard == "" || strings.Contains(d.text, d.heard) {
		return
	}
	d.text = fmt.Sprintf(HeardTemplate, d.heard) + d.text
}
