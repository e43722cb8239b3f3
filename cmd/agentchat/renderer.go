package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/skosovsky/agentsy"
)

type section int

const (
	sectionNone section = iota
	sectionReasoning
	sectionContent
)

// terminal is an agentsy.Renderer printing to a plain text stream. Placeholder updates are
// written as suffixes of what is already on screen, so output stays append-only.
type terminal struct {
	out     io.Writer
	stream  bool
	verbose bool

	mu        sync.Mutex
	replay    bool
	section   section
	content   string
	reasoning string
}

func newTerminal(out io.Writer, stream, verbose bool) *terminal {
	return &terminal{out: out, stream: stream, verbose: verbose}
}

// replaying makes PushMessage print. Outside a replay the only pushed messages are the
// user's own input, which is already on screen.
func (t *terminal) replaying(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replay = on
}

func (t *terminal) PushMessage(m agentsy.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.replay {
		return
	}
	switch m.Role {
	case agentsy.RoleUser:
		fmt.Fprintf(t.out, "you> %s\n", m.Content)
	case agentsy.RoleAssistant:
		fmt.Fprintf(t.out, "assistant> %s\n", m.Content)
	}
}

func (t *terminal) PushLoading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.section = sectionNone
	t.content = ""
	t.reasoning = ""
}

func (t *terminal) UpdateLoadingReasoning(reasoning string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stream || !t.verbose || t.section == sectionContent {
		return
	}
	if t.section == sectionNone {
		fmt.Fprint(t.out, "thinking> ")
		t.section = sectionReasoning
	}
	fmt.Fprint(t.out, strings.TrimPrefix(reasoning, t.reasoning))
	t.reasoning = reasoning
}

func (t *terminal) UpdateLoadingContent(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stream {
		return
	}
	t.enterContent()
	fmt.Fprint(t.out, strings.TrimPrefix(content, t.content))
	t.content = content
}

func (t *terminal) FinishLoading(m agentsy.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.section = sectionNone }()

	if t.section == sectionContent && strings.HasPrefix(m.Content, t.content) {
		fmt.Fprintf(t.out, "%s\n", m.Content[len(t.content):])
		return
	}
	if t.section != sectionNone {
		fmt.Fprintln(t.out)
	}
	if m.Content != "" {
		fmt.Fprintf(t.out, "assistant> %s\n", m.Content)
	}
}

// enterContent prints the assistant prompt, ending a reasoning line first. Caller holds t.mu.
func (t *terminal) enterContent() {
	switch t.section {
	case sectionContent:
		return
	case sectionReasoning:
		fmt.Fprintln(t.out)
	}
	fmt.Fprint(t.out, "assistant> ")
	t.section = sectionContent
}
