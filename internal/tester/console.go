package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/storstekarn/VibeCheck/internal/browser"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// ConsoleTester records uncaught page exceptions and error-level console
// messages. Listeners attach before navigation so nothing fired during load
// is missed.
type ConsoleTester struct {
	cfg    Config
	logger logging.Logger
}

func NewConsoleTester(cfg Config, logger logging.Logger) *ConsoleTester {
	return &ConsoleTester{cfg: cfg.withDefaults(), logger: logger}
}

func (t *ConsoleTester) Type() model.DefectType { return model.TypeConsoleError }

func (t *ConsoleTester) Run(ctx context.Context, session *browser.Session, pageURL string) ([]model.Defect, error) {
	tabCtx, tabCancel := session.NewPage(ctx)
	defer tabCancel()

	var mu sync.Mutex
	var defects []model.Defect

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventExceptionThrown:
			d := exceptionDefect(pageURL, exceptionMessage(e.ExceptionDetails))
			mu.Lock()
			defects = append(defects, d)
			mu.Unlock()
		case *runtime.EventConsoleAPICalled:
			if e.Type != runtime.APITypeError {
				return
			}
			if d, ok := consoleErrorDefect(pageURL, consoleText(e.Args)); ok {
				mu.Lock()
				defects = append(defects, d)
				mu.Unlock()
			}
		}
	})

	navCtx, navCancel := context.WithTimeout(tabCtx, t.cfg.NavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("console tester: navigating to %s: %w", pageURL, err)
	}

	// Give async errors a moment to fire.
	browser.Settle(tabCtx, t.cfg.SettleLong)

	mu.Lock()
	defer mu.Unlock()
	return defects, nil
}

// exceptionMessage prefers the exception object's description (which carries
// the stack) over the summary text.
func exceptionMessage(details *runtime.ExceptionDetails) string {
	if details == nil {
		return "unknown error"
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	if details.Text != "" {
		return details.Text
	}
	return "unknown error"
}

// consoleText flattens console call arguments into one message string.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

// exceptionDefect builds the critical defect for an uncaught page exception.
func exceptionDefect(pageURL, message string) model.Defect {
	return model.Defect{
		Type:     model.TypeConsoleError,
		Severity: model.SeverityCritical,
		Title:    "Uncaught exception: " + firstLine(message),
		Details:  message,
		Page:     pageURL,
	}
}

// consoleErrorDefect builds the warning defect for an error-level console
// message, dropping third-party noise.
func consoleErrorDefect(pageURL, text string) (model.Defect, bool) {
	if text == "" || matchesAny(text, consoleNoise) {
		return model.Defect{}, false
	}
	return model.Defect{
		Type:     model.TypeConsoleError,
		Severity: model.SeverityWarning,
		Title:    "Console error: " + truncate(text, 100),
		Details:  text,
		Page:     pageURL,
	}, true
}
