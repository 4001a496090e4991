package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is the typed client of the control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invokeStruct(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "Status", &emptypb.Empty{})
}

func (c *Client) StartConnections(ctx context.Context) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "StartConnections", &emptypb.Empty{})
}

func (c *Client) StopConnections(ctx context.Context) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "StopConnections", &emptypb.Empty{})
}

func (c *Client) SetOnline(ctx context.Context, online bool) error {
	return c.conn.Invoke(ctx, fullMethod("SetOnline"), wrapperspb.Bool(online), new(emptypb.Empty))
}

func (c *Client) EnableAccount(ctx context.Context, account string) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "EnableAccount", wrapperspb.String(account))
}

func (c *Client) DisableAccount(ctx context.Context, account string) (*structpb.Struct, error) {
	return c.invokeStruct(ctx, "DisableAccount", wrapperspb.String(account))
}

// SendMessage sends body to "to" through account. group selects a group chat.
func (c *Client) SendMessage(ctx context.Context, account, to, body string, group bool) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"account": account, "to": to, "body": body, "group": group})
	if err != nil {
		return nil, err
	}
	return c.invokeStruct(ctx, "SendMessage", req)
}

func (c *Client) ListChats(ctx context.Context, account string, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"account": account, "limit": limit})
	if err != nil {
		return nil, err
	}
	return c.invokeStruct(ctx, "ListChats", req)
}

func (c *Client) ListMessages(ctx context.Context, chat string, afterSeq int64, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"chat": chat, "after_seq": afterSeq, "limit": limit})
	if err != nil {
		return nil, err
	}
	return c.invokeStruct(ctx, "ListMessages", req)
}

func (c *Client) SearchMessages(ctx context.Context, query, chat string, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"query": query, "chat": chat, "limit": limit})
	if err != nil {
		return nil, err
	}
	return c.invokeStruct(ctx, "SearchMessages", req)
}

func (c *Client) MarkRead(ctx context.Context, chat string) error {
	return c.conn.Invoke(ctx, fullMethod("MarkRead"), wrapperspb.String(chat), new(emptypb.Empty))
}

func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.conn.Invoke(ctx, fullMethod("UnreadCount"), &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// EventStream receives watched events.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch subscribes to events whose kind starts with prefix. The stream ends
// with ctx.
func (c *Client) Watch(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(prefix)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
