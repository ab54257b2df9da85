// Package grpctransport is the network transport.Driver: one gRPC
// connection per neighbour zone, dialed lazily to the host:port of its
// topology.Row, with the row's username and virtual_host sent as request
// metadata (the row's password is not used), and a server side that hands
// inbound envelopes to a transport.Receiver. See spec §4.2.
package grpctransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/transport"
	"github.com/envoyage/envoyage/internal/transport/grpctransport/zonepb"
)

// Driver dials one connection per distinct neighbour host:port the first
// time it is addressed, and reuses it afterward.
type Driver struct {
	mu      sync.Mutex
	clients map[string]zonepb.ZonesClient
	log     *slog.Logger
}

// New builds a Driver with no connections yet established.
func New(log *slog.Logger) *Driver {
	return &Driver{clients: map[string]zonepb.ZonesClient{}, log: log}
}

func (d *Driver) clientFor(to *topology.ZoneInfo) (zonepb.ZonesClient, error) {
	addr := fmt.Sprintf("%s:%d", to.DBInfo.Host, to.DBInfo.Port)

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[addr]; ok {
		return c, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dialing %s: %w", addr, err)
	}
	c := zonepb.NewZonesClient(conn)
	d.clients[addr] = c
	return c, nil
}

func (d *Driver) deliver(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	client, err := d.clientFor(to)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{
		"zone-username":     to.DBInfo.Username,
		"zone-virtual-host": to.DBInfo.VirtualHost,
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	ctx = metadata.NewOutgoingContext(ctx, metadata.New(carrier))

	_, err = client.Deliver(ctx, wrapperspb.Bytes(payload))
	return err
}

// Send implements transport.Driver.
func (d *Driver) Send(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	return d.deliver(ctx, to, env)
}

// FanoutSend implements transport.Driver. There is no distinct wire
// shape for fanout delivery over gRPC — the same unary Deliver RPC
// addresses exactly one neighbour either way.
func (d *Driver) FanoutSend(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	return d.deliver(ctx, to, env)
}

// Server implements zonepb.ZonesServer, decoding inbound envelopes and
// handing each to receiver, which dispatches it onto its own goroutine.
type Server struct {
	receiver transport.Receiver
	log      *slog.Logger
}

// NewServer builds a Server delivering to receiver.
func NewServer(receiver transport.Receiver, log *slog.Logger) *Server {
	return &Server{receiver: receiver, log: log}
}

// Deliver implements zonepb.ZonesServer. It acknowledges receipt
// immediately; the eventual result of processing the envelope (if one
// was requested) travels back as its own, separately routed reply.
func (s *Server) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(req.GetValue(), &env); err != nil {
		return nil, fmt.Errorf("grpctransport: malformed envelope: %w", err)
	}
	s.receiver.Receive(context.WithoutCancel(ctx), env)
	return wrapperspb.Bytes(nil), nil
}

// Serve listens on addr and blocks serving the Zones service until ctx
// is cancelled.
func Serve(ctx context.Context, addr string, srv *Server, log *slog.Logger) error {
	grpcServer := grpc.NewServer()
	zonepb.RegisterZonesServer(grpcServer, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpctransport: listening on %s: %w", addr, err)
	}

	log.Info("zones gRPC transport listening", "addr", addr)

	go func() {
		<-ctx.Done()
		log.Info("shutting down zones gRPC transport")
		grpcServer.GracefulStop()
	}()

	return grpcServer.Serve(lis)
}
