// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in the triage bot.
//
// It provides methods for sending text and interactive messages and exposes
// the underlying client for event handling.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gsPatrick/bot-medico-api/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/bot-medico/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Choice is a single selectable option presented to the user.
type Choice struct {
	ID    string
	Label string
}

// Sender is the outbound WhatsApp surface used by the messaging layer.
// Every send returns the provider message id of the sent message so
// callers can recognize their own messages when they echo back.
type Sender interface {
	SendText(ctx context.Context, to string, body string) (string, error)
	SendButtons(ctx context.Context, to string, body, footer string, choices []Choice) (string, error)
	SendList(ctx context.Context, to string, body, title, footer string, choices []Choice) (string, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
	TextOnly    bool   // degrade interactive messages to numbered text
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithTextOnlyPrompts makes the client render button and list prompts as
// numbered plain-text messages. Useful for clients that render interactive
// messages poorly.
func WithTextOnlyPrompts() Option {
	return func(o *Opts) {
		o.TextOnly = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	textOnly bool
}

// NewClient creates a new WhatsApp client, applying any provided options for customization.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode, "TextOnly", cfg.TextOnly)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	// Auto-detect database driver based on DSN
	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
		slog.Debug("WhatsApp client auto-detected PostgreSQL driver", "dsn_type", "postgresql")
	} else {
		dbDriver = "sqlite3"
		slog.Debug("WhatsApp client auto-detected SQLite driver", "dsn_type", "sqlite")

		if !strings.Contains(dbDSN, "_foreign_keys") && !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
				"The whatsmeow library strongly recommends enabling foreign keys for data integrity. "+
				"Consider adding '?_foreign_keys=on' to your connection string.",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver, "dsn_set", dbDSN != "")
	logger := waLog.Stdout("Database", "INFO", true)
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	waClient := whatsmeow.NewClient(deviceStore, clientLog)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		err = waClient.Connect()
		if err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				slog.Debug("WhatsApp login event code received", "code", evt.Code)
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
				fmt.Println("Login event:", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient, textOnly: cfg.TextOnly}, nil
}

func (c *Client) checkSend(to, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	return nil
}

func (c *Client) send(ctx context.Context, to string, msg *waE2E.Message) (string, error) {
	jid := types.NewJID(to, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", to, "messageID", resp.ID)
	return string(resp.ID), nil
}

// SendText sends a plain text WhatsApp message and returns its provider message id.
func (c *Client) SendText(ctx context.Context, to string, body string) (string, error) {
	if err := c.checkSend(to, body); err != nil {
		return "", err
	}
	slog.Debug("Sending WhatsApp text message", "to", to, "body_length", len(body))
	return c.send(ctx, to, &waE2E.Message{Conversation: proto.String(body)})
}

// SendButtons sends a reply-button message. WhatsApp caps reply buttons at
// three per message; callers batch larger option sets. When the client is in
// text-only mode the prompt degrades to a numbered text message.
func (c *Client) SendButtons(ctx context.Context, to string, body, footer string, choices []Choice) (string, error) {
	if err := c.checkSend(to, body); err != nil {
		return "", err
	}
	if len(choices) == 0 {
		return "", fmt.Errorf("button message requires at least one choice")
	}
	if c.textOnly {
		return c.SendText(ctx, to, NumberedPrompt(body, choices))
	}

	buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(choices))
	for _, ch := range choices {
		buttons = append(buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:       proto.String(ch.ID),
			ButtonText:     &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(ch.Label)},
			Type:           waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
			NativeFlowInfo: nil,
		})
	}
	bm := &waE2E.ButtonsMessage{
		ContentText: proto.String(body),
		Buttons:     buttons,
		HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
	}
	if footer != "" {
		bm.FooterText = proto.String(footer)
	}
	slog.Debug("Sending WhatsApp button message", "to", to, "buttons", len(buttons))
	return c.send(ctx, to, &waE2E.Message{ButtonsMessage: bm})
}

// SendList sends a single-select list message. Lists hold up to ten rows, so
// they cover the option counts that reply buttons cannot.
func (c *Client) SendList(ctx context.Context, to string, body, title, footer string, choices []Choice) (string, error) {
	if err := c.checkSend(to, body); err != nil {
		return "", err
	}
	if len(choices) == 0 {
		return "", fmt.Errorf("list message requires at least one choice")
	}
	if c.textOnly {
		return c.SendText(ctx, to, NumberedPrompt(body, choices))
	}

	rows := make([]*waE2E.ListMessage_Row, 0, len(choices))
	for _, ch := range choices {
		rows = append(rows, &waE2E.ListMessage_Row{
			RowID: proto.String(ch.ID),
			Title: proto.String(ch.Label),
		})
	}
	if title == "" {
		title = "Opções"
	}
	lm := &waE2E.ListMessage{
		Title:       proto.String(title),
		Description: proto.String(body),
		ButtonText:  proto.String("Ver opções"),
		ListType:    waE2E.ListMessage_SINGLE_SELECT.Enum(),
		Sections: []*waE2E.ListMessage_Section{
			{Title: proto.String(title), Rows: rows},
		},
	}
	if footer != "" {
		lm.FooterText = proto.String(footer)
	}
	slog.Debug("Sending WhatsApp list message", "to", to, "rows", len(rows))
	return c.send(ctx, to, &waE2E.Message{ListMessage: lm})
}

// NumberedPrompt formats a prompt and its choices as plain text with
// numbered options. It is the degraded rendering used when interactive
// messages are unavailable or rejected by the server.
func NumberedPrompt(body string, choices []Choice) string {
	var b strings.Builder
	b.WriteString(body)
	for i, ch := range choices {
		fmt.Fprintf(&b, "\n%d. %s", i+1, ch.Label)
	}
	return b.String()
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient implements the Sender interface but does nothing (for tests).
// In tests, use whatsapp.NewMockClient() instead of NewClient to avoid real
// WhatsApp connections.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to string, body string) (string, error) {
	return "", nil
}

func (m *MockClient) SendButtons(ctx context.Context, to string, body, footer string, choices []Choice) (string, error) {
	return "", nil
}

func (m *MockClient) SendList(ctx context.Context, to string, body, title, footer string, choices []Choice) (string, error) {
	return "", nil
}
