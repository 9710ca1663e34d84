// Package notifier delivers human-readable canary reports.
package notifier

import (
	"errors"

	"canarydesk/internal/logger"
)

// TextNotifier is the only contract report producers depend on.
type TextNotifier interface {
	SendText(text string) error
}

// LogNotifier writes messages to the process log; it is the fallback when
// no chat channel is configured.
type LogNotifier struct {
	Prefix string
}

func (n LogNotifier) SendText(text string) error {
	if n.Prefix != "" {
		logger.Infof("%s", n.Prefix)
	}
	logger.InfoBlock(text)
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []TextNotifier

func (m Multi) SendText(text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendText(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
