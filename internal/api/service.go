package api

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/mpp/internal/account"
	"github.com/matheus3301/mpp/internal/bus"
	"github.com/matheus3301/mpp/internal/entity"
	"github.com/matheus3301/mpp/internal/message"
	"github.com/matheus3301/mpp/internal/model"
	"github.com/matheus3301/mpp/internal/store"
)

// Accounts lists configured accounts. *realm.Registry implements it.
type Accounts interface {
	Accounts() []account.Account
	AccountByID(id string) (account.Account, bool)
}

// Connections is the connection registry. *account.Connections implements it.
type Connections interface {
	StartConnectionsFor(ctx context.Context, accounts []account.Account, internet bool)
	TryStopAll() map[string]error
	Connection(accountID string) (account.Connection, bool)
	UpdateAccount(ctx context.Context, acc account.Account, internet bool)
}

// Network reports and overrides reachability. *netstate.Monitor implements it.
type Network interface {
	Online() bool
	Apply(ctx context.Context, online bool)
}

// Dispatcher sends messages. *message.Service implements it.
type Dispatcher interface {
	SendChatMessage(ctx context.Context, from entity.Entity, c model.Chat, draft model.ChatMessage) (model.ChatMessage, error)
	UnreadMessagesCount(ctx context.Context) (int, error)
}

// Chats reads and updates conversations. *chat.Service implements it.
type Chats interface {
	GetPrivateChat(ctx context.Context, owner, second entity.Entity) (model.Chat, error)
	Chat(ctx context.Context, e entity.Entity) (*model.Chat, error)
	Chats(ctx context.Context, accountID string, limit int) ([]model.Chat, error)
	ChatMessages(ctx context.Context, chat entity.Entity, afterSeq int64, limit int) ([]store.StoredMessage, error)
	Search(ctx context.Context, query string, chat entity.Entity, limit int) ([]store.SearchResult, error)
	MarkRead(ctx context.Context, chat entity.Entity) error
}

// Users resolves message authors for titles. *user.Service implements it.
type Users interface {
	UserByID(ctx context.Context, e entity.Entity) (*model.User, error)
}

// Deps are the collaborators of Service. Network and Users may be nil.
type Deps struct {
	SessionName string
	Accounts    Accounts
	Connections Connections
	Network     Network
	Messages    Dispatcher
	Chats       Chats
	Users       Users
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Service implements ControlServer.
type Service struct {
	Deps
	startedAt time.Time
	logger    *zap.Logger
}

var _ ControlServer = (*Service)(nil)

// NewService creates the control service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{Deps: d, startedAt: time.Now(), logger: d.Logger.Named("api")}
}

func (s *Service) online() bool {
	return s.Network == nil || s.Network.Online()
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		sendErr *message.SendError
		connErr *account.ConnectionError
		code    = codes.Internal
	)
	switch {
	case errors.As(err, &sendErr), errors.As(err, &connErr), errors.Is(err, account.ErrNotConnected):
		code = codes.Unavailable
	case errors.Is(err, message.ErrUnknownAccount):
		code = codes.NotFound
	case errors.Is(err, entity.ErrMalformed):
		code = codes.InvalidArgument
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
