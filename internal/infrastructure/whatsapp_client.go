package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"tokobot/internal/entities"
)

// WhatsAppClient wraps a whatsmeow client behind the transport contract the
// dispatcher consumes. Outbound sends are throttled to stay under WhatsApp's
// anti-spam radar.
type WhatsAppClient struct {
	Client *whatsmeow.Client

	log      zerolog.Logger
	throttle *rate.Limiter

	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(dbPath string, log zerolog.Logger) (*WhatsAppClient, error) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(context.Background(), "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(deviceStore, clientLog)

	return &WhatsAppClient{
		Client:   client,
		log:      log.With().Str("component", "whatsapp").Logger(),
		throttle: rate.NewLimiter(rate.Limit(1), 3), // 1 msg/s, burst 3
	}, nil
}

func (w *WhatsAppClient) Connect() error {
	if w.Client.Store.ID == nil {
		// No ID stored, new login
		qrChan, _ := w.Client.GetQRChannel(context.Background())
		if err := w.Client.Connect(); err != nil {
			return err
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					w.qrLock.Lock()
					w.qrCode = evt.Code
					w.qrLock.Unlock()
					w.log.Info().Msg("new pairing QR code available")
				} else {
					w.log.Info().Str("event", evt.Event).Msg("login event")
				}
			}
		}()
		return nil
	}

	if err := w.Client.Connect(); err != nil {
		return err
	}
	w.log.Info().Msg("connected with existing session")
	return nil
}

func (w *WhatsAppClient) GetQR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

// GetUserInfo returns connected phone number and push name.
func (w *WhatsAppClient) GetUserInfo() (string, string) {
	if w.Client.Store.ID == nil {
		return "", ""
	}
	return w.Client.Store.ID.User, w.Client.Store.PushName
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func (w *WhatsAppClient) SendMessage(to string, content string) error {
	jid, err := types.ParseJID(to + "@s.whatsapp.net")
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}

	w.throttle.Wait(context.Background())

	_, err = w.Client.SendMessage(context.Background(), jid, &waProto.Message{
		Conversation: &content,
	})

	return err
}

// SendPresence shows a typing indicator to the recipient.
func (w *WhatsAppClient) SendPresence(to string) {
	jid, _ := types.ParseJID(to + "@s.whatsapp.net")
	w.Client.SendPresence(context.Background(), types.PresenceAvailable)
	w.Client.SendChatPresence(context.Background(), jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// ParseMessage converts a whatsmeow event into the domain message. Each
// payload sub-type carries at most one usable text field; when none is
// present Content stays empty and the dispatcher drops the event.
func (w *WhatsAppClient) ParseMessage(evt *events.Message) entities.Message {
	msg := entities.Message{
		From:       evt.Info.Sender.User,
		PushName:   evt.Info.PushName,
		IsFromSelf: evt.Info.IsFromMe,
		IsGroup:    evt.Info.IsGroup,
	}

	m := evt.Message
	switch {
	case m == nil:
	case m.Conversation != nil:
		msg.Content = m.GetConversation()
	case m.ExtendedTextMessage != nil:
		msg.Content = m.ExtendedTextMessage.GetText()
	case m.ImageMessage != nil:
		msg.Content = m.ImageMessage.GetCaption()
	case m.VideoMessage != nil:
		msg.Content = m.VideoMessage.GetCaption()
	case m.DocumentMessage != nil:
		msg.Content = m.DocumentMessage.GetCaption()
	case m.ButtonsResponseMessage != nil:
		msg.Content = m.ButtonsResponseMessage.GetSelectedDisplayText()
	case m.ListResponseMessage != nil:
		msg.Content = m.ListResponseMessage.GetTitle()
	}

	return msg
}
