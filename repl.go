package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"parley/src/model"
	"parley/src/session"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

const helpText = `Commands:
  /characters      list characters
  /personas        list personas
  /char <id>       select the character to talk to
  /persona <id>    select the persona you speak as
  /delchar <id>    delete a character and its relationships
  /delpersona <id> delete a persona
  /commit          apply this chat's relationship changes
  /new             start a new chat
  /rel             show the committed relationship
  /delta           show the uncommitted changes of this chat
  /save            save everything now
  /reset           delete all saved data
  /quit            save and exit
Anything else is sent to the character.`

type repl struct {
	ctx     context.Context
	manager *session.Manager
	in      *bufio.Scanner
	out     io.Writer
}

func (r *repl) loop() error {
	r.println(helpText)
	for {
		fmt.Fprint(r.out, promptStyle.Render(r.prompt()+"> "))
		if !r.in.Scan() {
			break
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(line)
			if err != nil {
				r.printErr(err)
			}
			if quit {
				return nil
			}
			continue
		}
		r.send(line)
	}
	if err := r.in.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return r.manager.Save(r.ctx)
}

func (r *repl) prompt() string {
	c, p := r.manager.Selection()
	switch {
	case c != nil && p != nil:
		return p.DisplayName() + " → " + c.Name
	case c != nil:
		return "? → " + c.Name
	case p != nil:
		return p.DisplayName() + " → ?"
	}
	return "parley"
}

func (r *repl) command(line string) (bool, error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/help":
		r.println(helpText)
	case "/characters":
		for _, c := range r.manager.Characters() {
			r.println(fmt.Sprintf("%s  %s", nameStyle.Render(c.ID), c.Name) + dimStyle.Render("  "+c.Description))
		}
	case "/personas":
		for _, p := range r.manager.Personas() {
			r.println(fmt.Sprintf("%s  %s", nameStyle.Render(p.ID), p.DisplayName()))
		}
	case "/char":
		if arg == "" {
			return false, errors.New("usage: /char <id>")
		}
		return false, r.manager.SelectCharacter(arg)
	case "/persona":
		if arg == "" {
			return false, errors.New("usage: /persona <id>")
		}
		return false, r.manager.SelectPersona(arg)
	case "/delchar":
		if arg == "" {
			return false, errors.New("usage: /delchar <id>")
		}
		r.manager.DeleteCharacter(arg)
		return false, r.saved("Character " + arg + " deleted.")
	case "/delpersona":
		if arg == "" {
			return false, errors.New("usage: /delpersona <id>")
		}
		r.manager.DeletePersona(arg)
		return false, r.saved("Persona " + arg + " deleted.")
	case "/commit":
		committed, err := r.manager.Commit(r.ctx)
		if committed {
			r.println(dimStyle.Render("Relationship updated."))
		} else if err == nil {
			r.println(dimStyle.Render("Nothing to commit."))
		}
		return false, err
	case "/new":
		if err := r.manager.NewChat(r.ctx); err != nil {
			return false, err
		}
		r.println(dimStyle.Render(fmt.Sprintf("Chat #%d started.", r.manager.SessionID())))
	case "/rel":
		rel, ok := r.manager.Relationship()
		if !ok {
			r.println(dimStyle.Render("No committed relationship yet."))
			return false, nil
		}
		r.printRelationship(rel)
	case "/delta":
		d, ok := r.manager.CumulativeDelta()
		if n := r.manager.PendingDeltas(); n > 0 {
			r.println(dimStyle.Render(fmt.Sprintf("%d exchange(s) still being judged.", n)))
		}
		if !ok {
			r.println(dimStyle.Render("No changes yet."))
			return false, nil
		}
		r.println(d.Metrics.String())
		r.println(dimStyle.Render(d.Description))
	case "/save":
		return false, r.saved("Saved.")
	case "/reset":
		if err := r.manager.Reset(r.ctx); err != nil {
			return false, err
		}
		r.println(dimStyle.Render("All data deleted."))
	case "/quit", "/exit":
		return true, r.manager.Save(r.ctx)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

// send runs one turn. Ctrl-C cancels the reply stream without leaving the loop.
func (r *repl) send(text string) {
	ctx, stop := signal.NotifyContext(r.ctx, os.Interrupt)
	defer stop()

	c, _ := r.manager.Selection()
	if c != nil {
		fmt.Fprint(r.out, nameStyle.Render(c.Name+": "))
	}
	_, err := r.manager.Send(ctx, text, func(chunk string) {
		fmt.Fprint(r.out, chunk)
	})
	fmt.Fprintln(r.out)
	if err != nil {
		r.printErr(err)
	}
}

// saved persists the state and prints msg once it is stored.
func (r *repl) saved(msg string) error {
	if err := r.manager.Save(r.ctx); err != nil {
		return err
	}
	r.println(dimStyle.Render(msg))
	return nil
}

func (r *repl) printRelationship(rel model.Relationship) {
	r.println(rel.Metrics.String())
	if rel.Description != "" {
		r.println(dimStyle.Render(rel.Description))
	}
	for _, s := range rel.Summaries {
		r.println(dimStyle.Render(s.Timestamp.Format("2006-01-02 15:04") + "  " + s.Text))
	}
}

func (r *repl) println(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *repl) printErr(err error) {
	fmt.Fprintln(r.out, errorStyle.Render("Error: "+err.Error()))
}
