// Package localization translates the messages API errors carry.
package localization

import (
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type LocalizationService struct {
	bundle *i18n.Bundle
}

var (
	globalService *LocalizationService
	once          sync.Once
)

// NewLocalizationService returns the process wide service, loading every
// locale file on first use.
func NewLocalizationService() *LocalizationService {
	once.Do(func() {
		bundle := i18n.NewBundle(language.English)
		bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

		entries, err := localeFS.ReadDir("locales")
		if err != nil {
			slog.Error("can't list locales", "err", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, ".json") || name == "manifest.json" {
				continue
			}

			if _, err := bundle.LoadMessageFileFS(localeFS, path.Join("locales", name)); err != nil {
				slog.Error("can't load locale", "file", name, "err", err)
			}
		}

		globalService = &LocalizationService{bundle: bundle}
	})

	return globalService
}

func (ls *LocalizationService) GetLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(ls.bundle, append(langs, "en")...)
}

func (ls *LocalizationService) GetLocalizerFromRequest(r *http.Request) *i18n.Localizer {
	return ls.GetLocalizer(r.Header.Get("Accept-Language"))
}

// SimpleLocalizer wraps i18n.Localizer with a more convenient API
type SimpleLocalizer struct {
	Localizer *i18n.Localizer
}

// T returns the message for messageID, or messageID itself if no locale
// defines it.
func (sl *SimpleLocalizer) T(messageID string) string {
	msg, err := sl.Localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	return msg
}

// GetLocalizer creates a localizer based on the request's Accept-Language header
func GetLocalizer(r *http.Request) *SimpleLocalizer {
	return &SimpleLocalizer{Localizer: NewLocalizationService().GetLocalizerFromRequest(r)}
}
