package wa

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Adapter wraps the whatsmeow client of one account.
type Adapter struct {
	client *whatsmeow.Client
	logger *zap.Logger
}

// NewAdapter opens the device store at dbPath. Reconnects are driven by the
// account connection, so the client's own auto-reconnect is off.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("mpp", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	client.EnableAutoReconnect = false
	return &Adapter{client: client, logger: logger}, nil
}

// IsLoggedIn reports whether the device store holds paired credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// SendText sends a text message to jid and returns the server message id.
func (a *Adapter) SendText(ctx context.Context, jid string, text string) (string, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Contacts returns the contacts of the device store.
func (a *Adapter) Contacts(ctx context.Context) []Contact {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return nil
	}
	contacts := make([]Contact, 0, len(all))
	for jid, info := range all {
		contacts = append(contacts, Contact{
			JID:      a.ResolveLID(ctx, jid.ToNonAD()).String(),
			FullName: info.FullName,
			PushName: info.PushName,
		})
	}
	return contacts
}

// ResolveLID resolves a LID JID to its phone number JID using the device
// store mapping. Other JIDs, and LIDs without a mapping, are returned as is.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a == nil || a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
