package decision

import (
	"fmt"
	"time"

	"github.com/stellarlinkco/streamwarden/internal/analyzer"
)

type Category string

const (
	CategoryModeration Category = "moderation"
	CategoryMessaging  Category = "messaging"
	CategoryPoll       Category = "poll"
)

// Tool describes one external capability the engine may propose.
type Tool struct {
	Name        string
	Category    Category
	Cooldown    time.Duration
	Description string
	// NeedsWording marks tools whose parameters benefit from situational
	// phrasing (chat messages, poll/prediction/stream titles).
	NeedsWording bool
}

func defaultTools() []Tool {
	return []Tool{
		{
			Name:        "timeoutTwitchUser",
			Category:    CategoryModeration,
			Cooldown:    5 * time.Minute,
			Description: "Time a user out of chat for a bounded duration",
		},
		{
			Name:        "banTwitchUser",
			Category:    CategoryModeration,
			Cooldown:    30 * time.Minute,
			Description: "Ban a user from chat",
		},
		{
			Name:         "sendTwitchMessage",
			Category:     CategoryMessaging,
			Cooldown:     2 * time.Minute,
			Description:  "Send a message to chat as the bot",
			NeedsWording: true,
		},
		{
			Name:         "updateStreamTitle",
			Category:     CategoryMessaging,
			Cooldown:     30 * time.Minute,
			Description:  "Update the stream title",
			NeedsWording: true,
		},
		{
			Name:         "createTwitchPoll",
			Category:     CategoryPoll,
			Cooldown:     15 * time.Minute,
			Description:  "Create a viewer poll",
			NeedsWording: true,
		},
		{
			Name:         "createTwitchPrediction",
			Category:     CategoryPoll,
			Cooldown:     30 * time.Minute,
			Description:  "Create a viewer prediction",
			NeedsWording: true,
		},
	}
}

// cannedParameters are the deterministic fallbacks used when parameter
// synthesis fails. Required parameters are never left unset.
func cannedParameters(action string, p *analyzer.Pattern) map[string]any {
	var user string
	severity := 5
	if p != nil {
		severity = p.Severity
		if len(p.Users) > 0 {
			user = p.Users[0]
		}
	}

	switch action {
	case "timeoutTwitchUser":
		return map[string]any{
			"username": user,
			"duration": 60 * severity,
			"reason":   "Disruptive chat behavior",
		}
	case "banTwitchUser":
		return map[string]any{
			"username": user,
			"reason":   "Severe chat violation",
		}
	case "sendTwitchMessage":
		msg := "Thanks for hanging out, chat!"
		if p != nil {
			switch p.Type {
			case analyzer.PatternQuiet:
				msg = "Chat's a little quiet - what do you all think of the stream so far?"
			case analyzer.PatternQuestion:
				msg = "Great questions in chat! The streamer will get to them shortly."
			case analyzer.PatternExcitement:
				msg = "Chat is on fire right now, love the energy!"
			}
		}
		return map[string]any{"message": msg}
	case "updateStreamTitle":
		return map[string]any{"title": "Live now - come hang out!"}
	case "createTwitchPoll":
		return map[string]any{
			"title":    "What should we do next?",
			"options":  []string{"Keep going", "Switch it up", "Q&A time"},
			"duration": 120,
		}
	case "createTwitchPrediction":
		return map[string]any{
			"title":    "Will the next attempt succeed?",
			"outcomes": []string{"Yes", "No"},
			"window":   300,
		}
	default:
		return map[string]any{}
	}
}

func formatTools(tools []Tool) string {
	out := ""
	for _, t := range tools {
		out += fmt.Sprintf("- %s (%s): %s\n", t.Name, t.Category, t.Description)
	}
	return out
}
