/*
Package corpus loads conversation history used to train the completion model.

Two JSON layouts are accepted. The export layout groups messages by issue:

	{"Issues": [{"IssueId": 1, "CompanyGroupId": 50001,
	  "Messages": [{"Text": "Hi! How can I help?", "IsFromCustomer": false}]}]}

The flat layout is an array of message records:

	[{"Text": "Hi! How can I help?", "IsFromCustomer": false, "CompanyGroupId": 50001}]

Field names are matched case-insensitively. Only Text is required.
*/
package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/log"
)

// ErrNoMessages is returned when filtering leaves nothing to train on.
var ErrNoMessages = errors.New("no messages in corpus")

// Message is one chat line.
type Message struct {
	Text           string `json:"Text"`
	IsFromCustomer bool   `json:"IsFromCustomer"`
	CompanyGroupID int    `json:"CompanyGroupId"`
}

// Issue is one conversation thread.
type Issue struct {
	IssueID        int       `json:"IssueId"`
	CompanyGroupID int       `json:"CompanyGroupId"`
	Messages       []Message `json:"Messages"`
}

// Corpus is the decoded conversation history.
type Corpus struct {
	Issues []Issue `json:"Issues"`
}

// Filter selects which messages are used for training.
type Filter struct {
	// CompanyGroupIDs limits messages to these groups; empty means all groups.
	CompanyGroupIDs []int
	// IncludeCustomer keeps customer messages too. Operator messages are always kept.
	IncludeCustomer bool
}

// Load reads and decodes a corpus file.
func Load(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %w", path, err)
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode corpus %s: %w", path, err)
	}
	log.Debugf("Loaded corpus %s: issues=[%d]", path, len(c.Issues))
	return c, nil
}

// Decode reads either corpus layout from r.
func Decode(r io.Reader) (*Corpus, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoMessages
	}

	if data[0] == '[' {
		var messages []Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, err
		}
		// flat records carry their own group id; keep them as one issue per group
		c := &Corpus{}
		index := make(map[int]int)
		for _, m := range messages {
			i, ok := index[m.CompanyGroupID]
			if !ok {
				i = len(c.Issues)
				index[m.CompanyGroupID] = i
				c.Issues = append(c.Issues, Issue{CompanyGroupID: m.CompanyGroupID})
			}
			c.Issues[i].Messages = append(c.Issues[i].Messages, m)
		}
		return c, nil
	}

	var c Corpus
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Messages returns the texts selected by f, in file order.
func (c *Corpus) Messages(f Filter) []string {
	var out []string
	for _, issue := range c.Issues {
		if len(f.CompanyGroupIDs) > 0 && !slices.Contains(f.CompanyGroupIDs, issue.CompanyGroupID) {
			continue
		}
		for _, m := range issue.Messages {
			if m.IsFromCustomer && !f.IncludeCustomer {
				continue
			}
			out = append(out, m.Text)
		}
	}
	return out
}

// LoadMessages loads path and applies f, failing with ErrNoMessages when nothing is left.
func LoadMessages(path string, f Filter) ([]string, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	messages := c.Messages(f)
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: %s (groups=%v, customer=%v)", ErrNoMessages, path, f.CompanyGroupIDs, f.IncludeCustomer)
	}
	return messages, nil
}
