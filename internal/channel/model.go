// Package channel holds the read-only per-channel configuration table
// (spec.md §3 ChannelModel) that the accumulator and gateway consult.
package channel

import "time"

// Batching describes how a channel's native client groups rapid messages.
type Batching string

const (
	BatchingNone           Batching = "none"
	BatchingWhatsAppStyle  Batching = "whatsapp_style"
	BatchingTelegramStyle  Batching = "telegram_style"
)

// Name identifies a channel. ACF treats this as an opaque string key into
// the Model table; new channels are added by config, not by code change.
type Name string

const (
	WhatsApp Name = "whatsapp"
	SMS      Name = "sms"
	Web      Name = "web"
	Email    Name = "email"
	Voice    Name = "voice"
)

// Model is the read-only per-channel configuration (spec.md §3).
type Model struct {
	Channel                 Name
	DefaultTurnWindow        time.Duration
	TypingIndicatorAvailable bool
	MessageBatching          Batching
	MaxMessageLength         int
	SupportsMarkdown         bool
	SupportsRichMedia        bool

	// OverflowLimit and OverflowWindow bound the per-session parked-message
	// queue (spec.md §4.6, §5). See DESIGN.md Open Question decision #3 for
	// how the uncited channels' defaults were chosen.
	OverflowLimit  int
	OverflowWindow time.Duration
}

// Table is the default channel configuration, overridable per tenant/agent
// via internal/config.
type Table map[Name]Model

// DefaultTable returns the built-in channel defaults cited in spec.md §4.5
// and the Open Question decision in DESIGN.md for uncited channels.
func DefaultTable() Table {
	return Table{
		WhatsApp: {
			Channel:                  WhatsApp,
			DefaultTurnWindow:        1200 * time.Millisecond,
			TypingIndicatorAvailable: true,
			MessageBatching:          BatchingWhatsAppStyle,
			MaxMessageLength:         4096,
			SupportsMarkdown:         true,
			SupportsRichMedia:        true,
			OverflowLimit:            5,
			OverflowWindow:           10 * time.Second,
		},
		SMS: {
			Channel:                  SMS,
			DefaultTurnWindow:        800 * time.Millisecond,
			TypingIndicatorAvailable: false,
			MessageBatching:          BatchingNone,
			MaxMessageLength:         160,
			SupportsMarkdown:         false,
			SupportsRichMedia:        false,
			OverflowLimit:            3,
			OverflowWindow:           15 * time.Second,
		},
		Web: {
			Channel:                  Web,
			DefaultTurnWindow:        600 * time.Millisecond,
			TypingIndicatorAvailable: true,
			MessageBatching:          BatchingTelegramStyle,
			MaxMessageLength:         8192,
			SupportsMarkdown:         true,
			SupportsRichMedia:        true,
			OverflowLimit:            8,
			OverflowWindow:           5 * time.Second,
		},
		Email: {
			Channel:                  Email,
			DefaultTurnWindow:        0,
			TypingIndicatorAvailable: false,
			MessageBatching:          BatchingNone,
			MaxMessageLength:         0, // unbounded
			SupportsMarkdown:         true,
			SupportsRichMedia:        true,
			OverflowLimit:            3,
			OverflowWindow:           15 * time.Second,
		},
		Voice: {
			Channel:                  Voice,
			DefaultTurnWindow:        0,
			TypingIndicatorAvailable: false,
			MessageBatching:          BatchingNone,
			MaxMessageLength:         0,
			SupportsMarkdown:         false,
			SupportsRichMedia:        false,
			OverflowLimit:            3,
			OverflowWindow:           15 * time.Second,
		},
	}
}

// Get returns the Model for name, or the Web default if unknown. Falling
// back rather than erroring keeps the accumulator/gateway pure functions
// of their declared inputs per spec.md §4.5.
func (t Table) Get(name Name) Model {
	if m, ok := t[name]; ok {
		return m
	}
	return t[Web]
}
