package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stellarlinkco/streamwarden/internal/bus"
)

const (
	toxicityPrompt = `You are a chat moderation analyst. Assess the toxicity of this chat batch.

Rules:
1. Score severity 1-10 (10 = severe harassment/hate)
2. Score confidence 0.0-1.0
3. List offending usernames and quote the offending messages
4. detected=false when the chat is clean

Return strict JSON object:
{"detected":true,"severity":7,"confidence":0.9,"users":["name"],"messages":["quote"]}

Chat:
%s`

	spamPrompt = `You are a chat moderation analyst. Assess this chat batch for spam
(repeated content, flooding, link spam, copypasta).

Per-user messages in the last minute:
%s

Rules:
1. Score severity 1-10 (10 = aggressive flooding)
2. Score confidence 0.0-1.0
3. List spamming usernames and quote sample messages
4. detected=false when there is no spam

Return strict JSON object:
{"detected":true,"severity":6,"confidence":0.8,"users":["name"],"messages":["quote"]}

Chat:
%s`

	engagementPrompt = `You are a chat engagement analyst. Assess how engaged this chat is.

Rules:
1. Score engagement 0-10
2. questions=true when viewers are asking the streamer direct questions
3. requests=true when viewers are asking for something specific (a poll, a game, a song)
4. List the usernames engaging and quote the relevant messages
5. Score confidence 0.0-1.0

Return strict JSON object:
{"score":7,"questions":true,"requests":false,"confidence":0.8,"users":["name"],"messages":["quote"]}

Chat:
%s`

	sentimentPrompt = `You are a chat sentiment analyst. Score the overall mood of this chat batch.

Rules:
1. sentiment is -1.0 (hostile) to 1.0 (delighted)
2. Score confidence 0.0-1.0

Return strict JSON object:
{"sentiment":0.4,"confidence":0.7}

Chat:
%s`

	activityPrompt = `You are a chat activity analyst. Score how lively this chat batch is.

Rules:
1. level is 0 (dead) to 10 (explosive)
2. trend is one of: rising, falling, stable
3. Score confidence 0.0-1.0

Return strict JSON object:
{"level":3,"trend":"stable","confidence":0.8}

Chat:
%s`
)

func formatBatch(msgs []bus.ChatMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Username, m.Content))
	}
	return strings.TrimSpace(sb.String())
}

func formatRates(rates map[string]int) string {
	if len(rates) == 0 {
		return "(no recent per-user activity)"
	}
	users := make([]string, 0, len(rates))
	for u := range rates {
		users = append(users, u)
	}
	sort.Strings(users)

	var sb strings.Builder
	for _, u := range users {
		sb.WriteString(fmt.Sprintf("%s: %d msg/min\n", u, rates[u]))
	}
	return strings.TrimSpace(sb.String())
}
