package mockapi

import (
	"math/rand"
	"time"

	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// Bot is a simulated participant. It joins JoinAfter after the session is
// created and votes a random delay between MinDelay and MaxDelay after each
// round starts.
type Bot struct {
	Name      string
	Emoji     string
	JoinAfter time.Duration
	MinDelay  time.Duration
	MaxDelay  time.Duration
}

// DefaultBots returns four bots with fast, medium, slow and erratic voting.
func DefaultBots() []Bot {
	return []Bot{
		{Name: "Alice", Emoji: "🦊", JoinAfter: 500 * time.Millisecond, MinDelay: 2 * time.Second, MaxDelay: 4 * time.Second},
		{Name: "Bob", Emoji: "🐻", JoinAfter: time.Second, MinDelay: 4 * time.Second, MaxDelay: 8 * time.Second},
		{Name: "Charlie", Emoji: "🐢", JoinAfter: 1500 * time.Millisecond, MinDelay: 8 * time.Second, MaxDelay: 12 * time.Second},
		{Name: "Diana", Emoji: "🦉", JoinAfter: 2 * time.Second, MinDelay: 2 * time.Second, MaxDelay: 12 * time.Second},
	}
}

type weightedCard struct {
	value  vote.Value
	weight int
}

// middle of the deck is the most likely pick
var cardWeights = []weightedCard{
	{vote.Points(0), 5},
	{vote.Points(0.5), 3},
	{vote.Points(1), 8},
	{vote.Points(2), 15},
	{vote.Points(3), 20},
	{vote.Points(5), 20},
	{vote.Points(8), 15},
	{vote.Points(13), 8},
	{vote.Points(21), 3},
	{vote.Unknown, 2},
	{vote.Break, 1},
}

// RandomCard draws a card using the bot weighting.
func RandomCard(rng *rand.Rand) vote.Value {
	total := 0
	for _, c := range cardWeights {
		total += c.weight
	}
	n := rng.Intn(total)
	for _, c := range cardWeights {
		if n < c.weight {
			return c.value
		}
		n -= c.weight
	}
	return vote.Points(3)
}

func (b Bot) delay(rng *rand.Rand) time.Duration {
	if b.MaxDelay <= b.MinDelay {
		return b.MinDelay
	}
	return b.MinDelay + time.Duration(rng.Int63n(int64(b.MaxDelay-b.MinDelay)+1))
}
