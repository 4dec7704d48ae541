package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  start            start voting (facilitator)
  vote <card>      play a card, e.g. vote 5, vote 1/2, vote ?, vote coffee
  reveal           reveal the cards (facilitator)
  next             start the next round (facilitator)
  kick <id>        remove a participant (facilitator)
  refresh          refetch the session
  status           show the session
  cards            list the cards
  invite           show and copy the invite link
  leave            leave the session
  quit             exit, keeping the session for "estimate rejoin"`

// console drives a machine from line-oriented input.
type console struct {
	machine    *state.Machine
	inviteBase string
	copyInvite bool
	out        io.Writer
}

// parseCard accepts wire tokens and the faces printed on the cards.
func parseCard(s string) (vote.Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "½":
		return vote.Points(0.5), nil
	case "☕", "break":
		return vote.Break, nil
	}
	return vote.Parse(s)
}

// dispatch runs one command line. errQuit ends the loop.
func (c *console) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	m := c.machine

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "help", "h":
		_, _ = fmt.Fprintln(c.out, consoleHelp)
	case "status", "s":
		renderState(c.out, m.State())
	case "cards":
		renderCards(c.out)
	case "start":
		m.StartVoting(ctx)
	case "vote", "v":
		if len(args) != 1 {
			return errors.New("usage: vote <card>")
		}
		v, err := parseCard(args[0])
		if err != nil {
			return err
		}
		if !vote.InCatalog(v) {
			return fmt.Errorf("%s is not a card in the deck", v.Label())
		}
		m.SelectCard(ctx, v)
	case "reveal":
		m.RevealCards(ctx)
	case "next":
		m.StartNewRound(ctx)
	case "kick":
		if len(args) != 1 {
			return errors.New("usage: kick <participant id>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid participant id %q", args[0])
		}
		return m.RemoveParticipant(ctx, id)
	case "refresh":
		return m.Refresh(ctx)
	case "invite":
		return c.invite()
	case "leave":
		m.Leave(ctx)
		return errQuit
	case "quit", "exit", "q":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (c *console) invite() error {
	code := c.machine.State().Code
	if code == "" {
		return errors.New("not in a session")
	}
	link, err := state.InviteLink(c.inviteBase, code)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "invite: %s\n", link)
	if !c.copyInvite {
		return nil
	}
	if err := clipboard.WriteAll(link); err != nil {
		log.Debug().Err(err).Msg("clipboard unavailable")
		return nil
	}
	_, _ = fmt.Fprintln(c.out, dimStyle.Render("copied to clipboard"))
	return nil
}

// run reads commands from in until quit, end of input, a session-ending
// notice or ctx cancellation.
func (c *console) run(ctx context.Context, in io.Reader, notices <-chan state.Notice, changes <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	renderState(c.out, c.machine.State())
	last := summary(c.machine.State())

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-notices:
			_, _ = fmt.Fprintln(c.out, titleStyle.Render(n.Message))
			return nil
		case <-changes:
			s := c.machine.State()
			if k := summary(s); k != last {
				last = k
				renderState(c.out, s)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.dispatch(callCtx, line)
			cancel()
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				_, _ = fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}
