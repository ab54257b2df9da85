// Package zonepb is the generated-style gRPC service plumbing for the
// single-RPC Zones service: one envelope in, an empty acknowledgement
// out. The wire
// message is google.golang.org/protobuf's well-known BytesValue wrapper
// carrying the JSON-encoded envelope — the fabric's envelopes are already
// a stable, self-describing {method, args} shape, so there is nothing a
// bespoke .proto schema would buy beyond what BytesValue already gives us
// for free.
package zonepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ZonesServer is implemented by whatever receives delivered envelopes.
type ZonesServer interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ZonesClient is the client-side stub over the single Deliver RPC. Fanout
// delivery reuses the same RPC — transport.Driver.FanoutSend still
// addresses exactly one neighbour per call, so there is no distinct
// wire shape to generate for it.
type ZonesClient interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type zonesClient struct {
	cc grpc.ClientConnInterface
}

// NewZonesClient builds a ZonesClient over an established connection.
func NewZonesClient(cc grpc.ClientConnInterface) ZonesClient {
	return &zonesClient{cc: cc}
}

func (c *zonesClient) Deliver(ctx context.Context, req *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, zonesDeliverMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

const zonesDeliverMethod = "/envoyage.zones.Zones/Deliver"

// RegisterZonesServer attaches srv to s under the Zones service name.
func RegisterZonesServer(s grpc.ServiceRegistrar, srv ZonesServer) {
	s.RegisterService(&zonesServiceDesc, srv)
}

func zonesDeliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ZonesServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: zonesDeliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ZonesServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var zonesServiceDesc = grpc.ServiceDesc{
	ServiceName: "envoyage.zones.Zones",
	HandlerType: (*ZonesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: zonesDeliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zones.proto",
}
