package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/ticket-rush/internal/core/service"
)

type SubmitOrderRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	UserID         string `json:"userId"`
	TicketID       string `json:"ticketId"`
	Quantity       int32  `json:"quantity"`
}

type SubmitOrderResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Replayed bool   `json:"replayed"`
}

type GetOrderRequest struct {
	ID string `json:"id"`
}

type ListTicketsRequest struct{}

type ListTicketsResponse struct {
	Tickets []TicketResponse `json:"tickets"`
}

// OrderServiceServer is the RPC surface of ticketrush.v1.OrderService.
type OrderServiceServer interface {
	SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error)
	GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error)
	ListTickets(ctx context.Context, req *ListTicketsRequest) (*ListTicketsResponse, error)
}

type GRPCHandler struct {
	orderService OrderService
	log          zerolog.Logger
}

func NewGRPCHandler(orderService OrderService, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		orderService: orderService,
		log:          log.With().Str("component", "grpc").Logger(),
	}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&orderServiceDesc, h)
}

func (h *GRPCHandler) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	quantity := int(req.Quantity)
	if quantity == 0 {
		quantity = 1
	}

	resp, err := h.orderService.Submit(ctx, service.SubmitRequest{
		RequesterID: req.UserID,
		ItemID:      req.TicketID,
		Quantity:    quantity,
		Fingerprint: req.IdempotencyKey,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}

	return &SubmitOrderResponse{
		ID:       resp.OrderID,
		Status:   string(resp.Status),
		Message:  resp.Message,
		Replayed: resp.Replayed,
	}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	order, err := h.orderService.GetOrder(ctx, req.ID)
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) ListTickets(ctx context.Context, _ *ListTicketsRequest) (*ListTicketsResponse, error) {
	items, err := h.orderService.ListInventory(ctx)
	if err != nil {
		return nil, h.toStatus(err)
	}

	return &ListTicketsResponse{Tickets: toTicketResponses(items)}, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidFingerprint):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrRequestInFlight):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("rpc failed")
		return status.Error(codes.Internal, "internal error")
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: "ticketrush.v1.OrderService",
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrder", Handler: submitOrderHandler},
		{MethodName: "GetOrder", Handler: getOrderHandler},
		{MethodName: "ListTickets", Handler: listTicketsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func submitOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).SubmitOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ticketrush.v1.OrderService/SubmitOrder"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).SubmitOrder(ctx, req.(*SubmitOrderRequest))
	})
}

func getOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetOrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).GetOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ticketrush.v1.OrderService/GetOrder"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).GetOrder(ctx, req.(*GetOrderRequest))
	})
}

func listTicketsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListTicketsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServiceServer).ListTickets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/ticketrush.v1.OrderService/ListTickets"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OrderServiceServer).ListTickets(ctx, req.(*ListTicketsRequest))
	})
}

// OrderServiceClient calls ticketrush.v1.OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) SubmitOrder(ctx context.Context, req *SubmitOrderRequest, opts ...grpc.CallOption) (*SubmitOrderResponse, error) {
	out := new(SubmitOrderResponse)
	err := c.cc.Invoke(ctx, "/ticketrush.v1.OrderService/SubmitOrder", req, out, append(opts, grpc.CallContentSubtype(codecName))...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, req *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	err := c.cc.Invoke(ctx, "/ticketrush.v1.OrderService/GetOrder", req, out, append(opts, grpc.CallContentSubtype(codecName))...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ListTickets(ctx context.Context, req *ListTicketsRequest, opts ...grpc.CallOption) (*ListTicketsResponse, error) {
	out := new(ListTicketsResponse)
	err := c.cc.Invoke(ctx, "/ticketrush.v1.OrderService/ListTickets", req, out, append(opts, grpc.CallContentSubtype(codecName))...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
