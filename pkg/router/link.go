package router

import (
	"fmt"

	"github.com/fluxorio/blockflow/pkg/core"
)

// Link connects an output of one block to an input of another.
// Empty terminals mean the default terminal.
type Link struct {
	From   string `json:"from" yaml:"from"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	To     string `json:"to" yaml:"to"`
	Input  string `json:"input,omitempty" yaml:"input,omitempty"`
}

func (l Link) normalized() Link {
	if l.Output == "" {
		l.Output = core.DefaultTerminal
	}
	if l.Input == "" {
		l.Input = core.DefaultTerminal
	}
	return l
}

func (l Link) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s", l.From, l.Output, l.To, l.Input)
}

// Delivery is the bus message carrying one batch to a block input.
type Delivery struct {
	From      string         `json:"from"`
	Output    string         `json:"output"`
	To        string         `json:"to"`
	Input     string         `json:"input"`
	Signals   []*core.Signal `json:"signals"`
	RequestID string         `json:"request_id,omitempty"`
}

// InputAddress is the bus address a block's deliveries are sent to.
func InputAddress(block string) string {
	return "block." + block + ".input"
}
