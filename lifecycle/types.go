package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TokenType mirrors the embedding SDK's token type enum (Aad = 0, Embed = 1).
type TokenType int

const (
	TokenTypeAad TokenType = iota
	TokenTypeEmbed
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeAad:
		return "Aad"
	case TokenTypeEmbed:
		return "Embed"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// ParseTokenType accepts "Embed" or "Aad" (case-insensitive).
func ParseTokenType(raw string) (TokenType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "embed", "":
		return TokenTypeEmbed, nil
	case "aad":
		return TokenTypeAad, nil
	default:
		return 0, fmt.Errorf("unknown token type %q", raw)
	}
}

// ReportType is the only embed type this controller produces.
const ReportType = "report"

// EmbedConfig is the object handed to the embedding SDK.
type EmbedConfig struct {
	Type        string    `json:"type"`
	ID          string    `json:"id,omitempty"`
	EmbedURL    string    `json:"embedUrl,omitempty"`
	AccessToken string    `json:"accessToken,omitempty"`
	TokenType   TokenType `json:"tokenType"`
	Settings    *Settings `json:"settings,omitempty"`
}

// Template returns an EmbedConfig with only the base fields set.
func Template(tokenType TokenType, settings *Settings) EmbedConfig {
	return EmbedConfig{
		Type:      ReportType,
		TokenType: tokenType,
		Settings:  settings,
	}
}

// Indicator is the icon shown in the status area.
type Indicator string

const (
	IndicatorNone    Indicator = ""
	IndicatorSuccess Indicator = "success"
	IndicatorError   Indicator = "error"
)

// Visibility holds the CSS flags of the report and status containers.
type Visibility struct {
	ReportVisible    bool `json:"report_visible"`
	StatusPositioned bool `json:"status_positioned"`
}

// ViewState is everything the host page renders.
type ViewState struct {
	State           string     `json:"state"`
	DisplayMessage  string     `json:"display_message"`
	IsEmbedded      bool       `json:"is_embedded"`
	Visibility      Visibility `json:"visibility"`
	TriggerEnabled  bool       `json:"trigger_enabled"`
	StatusIndicator Indicator  `json:"status_indicator,omitempty"`
}

// MarshalBinary lets a ViewState be written straight into Redis.
func (v ViewState) MarshalBinary() ([]byte, error) {
	return json.Marshal(v)
}

// Display messages.
const (
	MessageBootstrapped = "The report is bootstrapped. Click Embed Report button to set the access token."
	MessageTokenSet     = "Access token is successfully set. Loading Power BI report."
	MessageInteract     = "Use the buttons above to interact with the report using Power BI Client APIs."
)

func initialView() ViewState {
	return ViewState{
		State:          StateBootstrapped,
		DisplayMessage: MessageBootstrapped,
		TriggerEnabled: true,
		Visibility:     Visibility{ReportVisible: false, StatusPositioned: true},
	}
}
