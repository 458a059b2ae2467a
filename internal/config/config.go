// Package config loads the gateway configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultLineAPIBaseURL = "https://api.line.me/v2/"
	DefaultBotTimeoutSecs = 30
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Line         LineConfig         `toml:"line"`
	Bot          BotConfig          `toml:"bot"`
	Conversation ConversationConfig `toml:"conversation"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LineConfig holds the Messaging API credentials. Switcher fields are optional;
// escalation degrades to an error message when no destination is configured.
type LineConfig struct {
	APIBaseURL          string `toml:"api_base_url" validate:"required,url"`
	ChannelID           string `toml:"channel_id" validate:"required"`
	ChannelSecret       string `toml:"channel_secret" validate:"required"`
	SwitcherDestination string `toml:"switcher_destination"`
	SwitcherSecret      string `toml:"switcher_secret"`
	ServiceCode         string `toml:"service_code"`
	TokenCacheDir       string `toml:"token_cache_dir"`
}

type BotConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

type ConversationConfig struct {
	ContentRatings ContentRatingsConfig `toml:"content_ratings"`
	Digester       DigesterConfig       `toml:"digester"`
	Escalation     EscalationConfig     `toml:"escalation"`
	Translations   map[string]string    `toml:"translations"`
}

type ContentRatingsConfig struct {
	Enabled bool           `toml:"enabled"`
	Sticker bool           `toml:"sticker"`
	Ratings []RatingOption `toml:"ratings"`
}

// RatingOption is one selectable content rating. Comment marks options that
// should ask the user for a free-text comment after rating.
type RatingOption struct {
	ID         int    `toml:"id"`
	Label      string `toml:"label"`
	Comment    bool   `toml:"comment"`
	IsNegative bool   `toml:"is_negative"`
}

type DigesterConfig struct {
	ButtonTitle    string               `toml:"button_title"`
	URLButtons     URLButtonsConfig     `toml:"url_buttons"`
	StickerReplies StickerRepliesConfig `toml:"sticker_replies"`
}

// URLButtonsConfig names the answer attribute carrying URL buttons and the
// properties inside each button object.
type URLButtonsConfig struct {
	AttributeName  string `toml:"attribute_name"`
	ButtonTitleVar string `toml:"button_title_var"`
	ButtonURLVar   string `toml:"button_url_var"`
}

type StickerRef struct {
	PackageID string `toml:"package_id"`
	StickerID string `toml:"sticker_id"`
}

type StickerRepliesConfig struct {
	AvailablePackages     []string     `toml:"available_packages"`
	UnknownStickerReplies []StickerRef `toml:"unknown_sticker_replies"`
	ThanksRatingStickers  []StickerRef `toml:"thanks_rating_stickers"`
}

type EscalationConfig struct {
	MaxNoResults       int `toml:"max_no_results" validate:"gte=0"`
	MaxNegativeRatings int `toml:"max_negative_ratings" validate:"gte=0"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Line: LineConfig{
			APIBaseURL: DefaultLineAPIBaseURL,
		},
		Bot: BotConfig{
			TimeoutSeconds: DefaultBotTimeoutSecs,
		},
		Conversation: ConversationConfig{
			ContentRatings: ContentRatingsConfig{
				Enabled: true,
				Ratings: []RatingOption{
					{ID: 1, Label: "yes"},
					{ID: 2, Label: "no", Comment: true, IsNegative: true},
				},
			},
			Digester: DigesterConfig{
				StickerReplies: StickerRepliesConfig{
					// Official sticker packages; see the Messaging API sticker list.
					AvailablePackages: []string{"11537", "11538", "11539"},
					UnknownStickerReplies: []StickerRef{
						{PackageID: "11537", StickerID: "52002744"},
						{PackageID: "11538", StickerID: "51626506"},
						{PackageID: "11539", StickerID: "52114129"},
					},
					ThanksRatingStickers: []StickerRef{
						{PackageID: "11537", StickerID: "52002739"},
						{PackageID: "11539", StickerID: "52114110"},
					},
				},
			},
			Escalation: EscalationConfig{
				MaxNoResults:       2,
				MaxNegativeRatings: 2,
			},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the credential and threshold fields required to run the gateway.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
