// Package translator renders user-facing texts in the configured locale.
package translator

import (
	"embed"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"agrotasks/internal/domain"
)

const (
	LanguageEn = "en"
	LanguageRu = "ru"
)

//go:embed locales/*.toml
var locales embed.FS

type Translator struct {
	bundle *i18n.Bundle
	lang   string
	logger *slog.Logger
}

// New loads the embedded message files. lang is the default locale used
// when a caller does not ask for one.
func New(lang string, logger *slog.Logger) (*Translator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, name := range []string{"locales/en.toml", "locales/ru.toml"} {
		if _, err := bundle.LoadMessageFileFS(locales, name); err != nil {
			return nil, err
		}
	}
	if lang == "" {
		lang = LanguageEn
	}
	return &Translator{bundle: bundle, lang: lang, logger: logger}, nil
}

// Lang is the default locale.
func (t *Translator) Lang() string {
	return t.lang
}

// Message localizes id. Unknown ids are returned as-is.
func (t *Translator) Message(lang, id string, data map[string]any) string {
	if lang == "" {
		lang = t.lang
	}
	l := i18n.NewLocalizer(t.bundle, lang, LanguageEn)
	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		t.logger.Warn("translation not found", "lang", lang, "message_id", id, "err", err)
		return id
	}
	return msg
}

// Error renders the message for an API error code such as invalid_transition.
func (t *Translator) Error(lang, code string) string {
	return t.Message(lang, "error."+code, nil)
}

// Notification renders the text sent for an event on a task.
func (t *Translator) Notification(lang, event string, task domain.TaskSummary) string {
	return t.Message(lang, "notify."+event, map[string]any{
		"Num":      task.GlobalNum,
		"Title":    task.Title,
		"Deadline": task.Deadline,
	})
}
