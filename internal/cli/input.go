// Package cli handles cmd line input and suggestions for debugging a trained model
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	textStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
)

// InputHandler reads partial messages line by line and prints their completions.
// Trailing spaces are kept: "how can " completes a new word, "how can" the word "can".
type InputHandler struct {
	completer    suggest.ICompleter
	suggestLimit int
	maxQueryLen  int
	requestCount int
	in           io.Reader
	out          io.Writer
}

// NewInputHandler creates a handler on stdin/stdout.
func NewInputHandler(completer suggest.ICompleter, limit, maxQueryLen int) *InputHandler {
	return &InputHandler{
		completer:    completer,
		suggestLimit: limit,
		maxQueryLen:  maxQueryLen,
		in:           os.Stdin,
		out:          os.Stdout,
	}
}

// WithIO replaces stdin/stdout.
func (h *InputHandler) WithIO(in io.Reader, out io.Writer) *InputHandler {
	h.in, h.out = in, out
	return h
}

// Start runs the loop until the input ends.
func (h *InputHandler) Start() error {
	fmt.Fprintln(h.out, "chatserve REPL: type the start of a message and press Enter (Ctrl+D to exit)")
	reader := bufio.NewReader(h.in)
	for {
		fmt.Fprint(h.out, "> ")
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			h.HandleInput(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(h.out)
				return nil
			}
			return err
		}
	}
}

// HandleInput completes one partial message and prints the ranked results.
func (h *InputHandler) HandleInput(input string) {
	h.requestCount++
	if problem := utils.CheckQuery(input, h.maxQueryLen, false); problem != utils.QueryOK {
		log.Errorf("Rejected input: %s", problem)
		return
	}

	start := time.Now()
	suggestions, err := h.completer.Complete(input, h.suggestLimit)
	if err != nil {
		log.Errorf("Complete failed: %v", err)
		return
	}
	log.Debugf("Took [ %v ] for '%s' (request %d)", time.Since(start), input, h.requestCount)

	if len(suggestions) == 0 {
		log.Warnf("No suggestions found for '%s'", input)
		return
	}
	fmt.Fprint(h.out, FormatSuggestions(suggestions))
}

// FormatSuggestions renders one numbered line per suggestion.
func FormatSuggestions(suggestions []suggest.Suggestion) string {
	var b strings.Builder
	for i, s := range suggestions {
		marker := ""
		if s.Corrected {
			marker = " (corrected)"
		}
		fmt.Fprintf(&b, "%2d. %s %s%s\n", i+1, textStyle.Render(s.Text),
			scoreStyle.Render(fmt.Sprintf("[%.3f]", s.Score)), marker)
	}
	return b.String()
}
