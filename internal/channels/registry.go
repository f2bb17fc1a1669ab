package channels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/talon-ai/talon/pkg/models"
)

// ChatChannelID represents a supported chat channel.
// This type provides a unified identifier for all messaging platforms
// recognized by session scoping and message normalization, whether or not
// a concrete adapter ships for it.
type ChatChannelID string

const (
	ChannelTelegram ChatChannelID = "telegram"
	ChannelWhatsApp ChatChannelID = "whatsapp"
	ChannelDiscord  ChatChannelID = "discord"
	ChannelSlack    ChatChannelID = "slack"
	ChannelSignal   ChatChannelID = "signal"
	ChannelIMessage ChatChannelID = "imessage"
	ChannelMatrix   ChatChannelID = "matrix"
	ChannelAPI      ChatChannelID = "api"
	ChannelTeams    ChatChannelID = "teams"
	ChannelEmail    ChatChannelID = "email"
)

// ChatChannelOrder defines the preferred channel ordering for display.
// Only Telegram, Slack, and Discord ship a concrete adapter; the rest are
// recognized identifiers for session scoping and message normalization.
var ChatChannelOrder = []ChatChannelID{
	ChannelTelegram,
	ChannelSlack,
	ChannelDiscord,
	ChannelWhatsApp,
	ChannelSignal,
	ChannelIMessage,
	ChannelMatrix,
	ChannelTeams,
	ChannelEmail,
	ChannelAPI,
}

// ChannelMeta contains metadata for a channel.
type ChannelMeta struct {
	ID             ChatChannelID
	Label          string
	SelectionLabel string
	DetailLabel    string
	Blurb          string
	Aliases        []string
}

var chatChannelMeta = map[ChatChannelID]*ChannelMeta{
	ChannelTelegram: {
		ID:             ChannelTelegram,
		Label:          "Telegram",
		SelectionLabel: "Telegram (Bot API)",
		DetailLabel:    "Telegram Bot",
		Blurb:          "simplest way to get started — register a bot with @BotFather",
		Aliases:        []string{"tg"},
	},
	ChannelSlack: {
		ID:             ChannelSlack,
		Label:          "Slack",
		SelectionLabel: "Slack (Socket Mode)",
		DetailLabel:    "Slack Bot",
		Blurb:          "supported via Socket Mode for real-time messaging",
	},
	ChannelDiscord: {
		ID:             ChannelDiscord,
		Label:          "Discord",
		SelectionLabel: "Discord (Bot API)",
		DetailLabel:    "Discord Bot",
		Blurb:          "very well supported with rich embeds and slash commands",
	},
	ChannelWhatsApp: {
		ID:             ChannelWhatsApp,
		Label:          "WhatsApp",
		SelectionLabel: "WhatsApp",
		DetailLabel:    "WhatsApp",
		Blurb:          "recognized for session scoping; no adapter ships",
		Aliases:        []string{"wa"},
	},
	ChannelSignal: {
		ID:             ChannelSignal,
		Label:          "Signal",
		SelectionLabel: "Signal",
		DetailLabel:    "Signal",
		Blurb:          "recognized for session scoping; no adapter ships",
	},
	ChannelIMessage: {
		ID:             ChannelIMessage,
		Label:          "iMessage",
		SelectionLabel: "iMessage",
		DetailLabel:    "iMessage",
		Blurb:          "recognized for session scoping; no adapter ships",
		Aliases:        []string{"imsg"},
	},
	ChannelMatrix: {
		ID:             ChannelMatrix,
		Label:          "Matrix",
		SelectionLabel: "Matrix",
		DetailLabel:    "Matrix",
		Blurb:          "recognized for session scoping; no adapter ships",
	},
	ChannelTeams: {
		ID:             ChannelTeams,
		Label:          "Microsoft Teams",
		SelectionLabel: "Teams",
		DetailLabel:    "Teams",
		Blurb:          "recognized for session scoping; no adapter ships",
		Aliases:        []string{"msteams", "ms-teams"},
	},
	ChannelEmail: {
		ID:             ChannelEmail,
		Label:          "Email",
		SelectionLabel: "Email",
		DetailLabel:    "Email",
		Blurb:          "recognized for session scoping; no adapter ships",
		Aliases:        []string{"mail"},
	},
	ChannelAPI: {
		ID:             ChannelAPI,
		Label:          "API",
		SelectionLabel: "API (WebSocket control plane)",
		DetailLabel:    "API Client",
		Blurb:          "programmatic access via the gateway's /ws control plane",
	},
}

var chatChannelAliases = map[string]ChatChannelID{
	"imsg":     ChannelIMessage,
	"tg":       ChannelTelegram,
	"wa":       ChannelWhatsApp,
	"msteams":  ChannelTeams,
	"ms-teams": ChannelTeams,
	"mail":     ChannelEmail,
}

// ChannelCapabilities defines feature support for a channel.
type ChannelCapabilities struct {
	SupportsReactions   bool
	SupportsTyping      bool
	SupportsThreads     bool
	SupportsAttachments bool
	SupportsMentions    bool
	SupportsEditing     bool
	SupportsDeleting    bool
	SupportsRichText    bool
	SupportsEmbeds      bool
	MaxMessageLength    int
}

var channelCapabilities = map[ChatChannelID]*ChannelCapabilities{
	ChannelTelegram: {
		SupportsReactions: true, SupportsTyping: true, SupportsThreads: true,
		SupportsAttachments: true, SupportsMentions: true, SupportsEditing: true,
		SupportsDeleting: true, SupportsRichText: true, MaxMessageLength: 4096,
	},
	ChannelSlack: {
		SupportsReactions: true, SupportsTyping: true, SupportsThreads: true,
		SupportsAttachments: true, SupportsMentions: true, SupportsEditing: true,
		SupportsDeleting: true, SupportsRichText: true, SupportsEmbeds: true,
		MaxMessageLength: 40000,
	},
	ChannelDiscord: {
		SupportsReactions: true, SupportsTyping: true, SupportsThreads: true,
		SupportsAttachments: true, SupportsMentions: true, SupportsEditing: true,
		SupportsDeleting: true, SupportsRichText: true, SupportsEmbeds: true,
		MaxMessageLength: 2000,
	},
	ChannelWhatsApp: {SupportsReactions: true, SupportsTyping: true, SupportsAttachments: true, SupportsRichText: true, MaxMessageLength: 65536},
	ChannelSignal:   {SupportsReactions: true, SupportsTyping: true, SupportsAttachments: true},
	ChannelIMessage: {SupportsReactions: true, SupportsTyping: true, SupportsAttachments: true},
	ChannelMatrix:   {SupportsReactions: true, SupportsTyping: true, SupportsThreads: true, SupportsAttachments: true, SupportsRichText: true, MaxMessageLength: 65536},
	ChannelTeams:    {SupportsReactions: true, SupportsTyping: true, SupportsThreads: true, SupportsAttachments: true, SupportsRichText: true, SupportsEmbeds: true, MaxMessageLength: 28000},
	ChannelEmail:    {SupportsThreads: true, SupportsAttachments: true, SupportsRichText: true},
	ChannelAPI:      {SupportsThreads: true, SupportsAttachments: true, SupportsRichText: true, SupportsEmbeds: true},
}

// ListChatChannels returns all channels in preferred order.
func ListChatChannels() []*ChannelMeta {
	result := make([]*ChannelMeta, 0, len(ChatChannelOrder))
	for _, id := range ChatChannelOrder {
		if meta, ok := chatChannelMeta[id]; ok {
			result = append(result, meta)
		}
	}
	return result
}

// ListChatChannelAliases returns all registered aliases sorted alphabetically.
func ListChatChannelAliases() []string {
	aliases := make([]string, 0, len(chatChannelAliases))
	for alias := range chatChannelAliases {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// GetChatChannelMeta returns metadata for a channel, or nil if not found.
func GetChatChannelMeta(id ChatChannelID) *ChannelMeta {
	return chatChannelMeta[id]
}

// NormalizeChatChannelID normalizes a channel ID string to its canonical form.
func NormalizeChatChannelID(raw string) ChatChannelID {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return ""
	}
	id := ChatChannelID(normalized)
	if _, ok := chatChannelMeta[id]; ok {
		return id
	}
	if canonical, ok := chatChannelAliases[normalized]; ok {
		return canonical
	}
	return ""
}

// IsValidChannelID checks if a channel ID is valid.
func IsValidChannelID(id ChatChannelID) bool {
	_, ok := chatChannelMeta[id]
	return ok
}

// FormatChannelPrimerLine formats a channel for display in a primer/overview.
func FormatChannelPrimerLine(meta *ChannelMeta) string {
	if meta == nil {
		return ""
	}
	if meta.Blurb == "" {
		return meta.Label
	}
	return fmt.Sprintf("%s — %s", meta.Label, meta.Blurb)
}

// GetChannelCapabilities returns capabilities for a channel, or nil if not found.
func GetChannelCapabilities(id ChatChannelID) *ChannelCapabilities {
	return channelCapabilities[id]
}

// ToModelChannelType converts a ChatChannelID to the models.ChannelType.
func ToModelChannelType(id ChatChannelID) models.ChannelType {
	switch id {
	case ChannelTelegram:
		return models.ChannelTelegram
	case ChannelDiscord:
		return models.ChannelDiscord
	case ChannelSlack:
		return models.ChannelSlack
	case ChannelAPI:
		return models.ChannelAPI
	case ChannelWhatsApp:
		return models.ChannelWhatsApp
	case ChannelSignal:
		return models.ChannelSignal
	case ChannelIMessage:
		return models.ChannelIMessage
	case ChannelMatrix:
		return models.ChannelMatrix
	case ChannelTeams:
		return models.ChannelTeams
	case ChannelEmail:
		return models.ChannelEmail
	default:
		return ""
	}
}

// FromModelChannelType converts a models.ChannelType to ChatChannelID.
func FromModelChannelType(ct models.ChannelType) ChatChannelID {
	switch ct {
	case models.ChannelTelegram:
		return ChannelTelegram
	case models.ChannelDiscord:
		return ChannelDiscord
	case models.ChannelSlack:
		return ChannelSlack
	case models.ChannelAPI:
		return ChannelAPI
	case models.ChannelWhatsApp:
		return ChannelWhatsApp
	case models.ChannelSignal:
		return ChannelSignal
	case models.ChannelIMessage:
		return ChannelIMessage
	case models.ChannelMatrix:
		return ChannelMatrix
	case models.ChannelTeams:
		return ChannelTeams
	case models.ChannelEmail:
		return ChannelEmail
	default:
		return ""
	}
}

// GetAllChannelIDs returns all registered channel IDs.
func GetAllChannelIDs() []ChatChannelID {
	ids := make([]ChatChannelID, 0, len(chatChannelMeta))
	for id := range chatChannelMeta {
		ids = append(ids, id)
	}
	return ids
}

// GetChannelsWithCapability returns all channels matching a capability predicate.
func GetChannelsWithCapability(check func(*ChannelCapabilities) bool) []*ChannelMeta {
	var result []*ChannelMeta
	for _, id := range ChatChannelOrder {
		caps := channelCapabilities[id]
		if caps != nil && check(caps) {
			if meta := chatChannelMeta[id]; meta != nil {
				result = append(result, meta)
			}
		}
	}
	return result
}

// GetChannelsWithReactions returns all channels that support reactions.
func GetChannelsWithReactions() []*ChannelMeta {
	return GetChannelsWithCapability(func(c *ChannelCapabilities) bool { return c.SupportsReactions })
}

// GetChannelsWithTyping returns all channels that support typing indicators.
func GetChannelsWithTyping() []*ChannelMeta {
	return GetChannelsWithCapability(func(c *ChannelCapabilities) bool { return c.SupportsTyping })
}

// GetChannelsWithThreads returns all channels that support threads.
func GetChannelsWithThreads() []*ChannelMeta {
	return GetChannelsWithCapability(func(c *ChannelCapabilities) bool { return c.SupportsThreads })
}
