package handler

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/ticket-rush/internal/core/service"
)

func newTestGRPCClient(t *testing.T, svc *stubOrderService) *OrderServiceClient {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	NewGRPCHandler(svc, zerolog.Nop()).Register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewOrderServiceClient(conn)
}

func TestGRPC_SubmitOrder(t *testing.T) {
	svc := newStubOrderService()
	client := newTestGRPCClient(t, svc)
	key := uuid.NewString()

	resp, err := client.SubmitOrder(context.Background(), &SubmitOrderRequest{
		IdempotencyKey: key,
		UserID:         "user-1",
		TicketID:       "ticket-vip",
		Quantity:       3,
	})
	if err != nil {
		t.Fatalf("SubmitOrder failed: %v", err)
	}
	if resp.ID != "order-new" || resp.Status != "PENDING" {
		t.Errorf("unexpected response %+v", resp)
	}

	got := svc.lastSubmitted()
	if got.Quantity != 3 || got.Fingerprint != key || got.RequesterID != "user-1" {
		t.Errorf("unexpected submit request %+v", got)
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{service.ErrInvalidQuantity, codes.InvalidArgument},
		{service.ErrInvalidFingerprint, codes.InvalidArgument},
		{service.ErrRequestInFlight, codes.AlreadyExists},
	}

	for _, tc := range cases {
		svc := newStubOrderService()
		svc.submitErr = tc.err
		client := newTestGRPCClient(t, svc)

		_, err := client.SubmitOrder(context.Background(), &SubmitOrderRequest{IdempotencyKey: uuid.NewString(), UserID: "user-1", TicketID: "ticket-vip"})
		if status.Code(err) != tc.code {
			t.Errorf("%v: expected %s, got %s", tc.err, tc.code, status.Code(err))
		}
	}
}

func TestGRPC_GetOrder(t *testing.T) {
	client := newTestGRPCClient(t, newStubOrderService())

	order, err := client.GetOrder(context.Background(), &GetOrderRequest{ID: "order-1"})
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != "COMPLETED" || order.TotalPrice != 30000 {
		t.Errorf("unexpected order %+v", order)
	}

	_, err = client.GetOrder(context.Background(), &GetOrderRequest{ID: "missing"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %s", status.Code(err))
	}
}

func TestGRPC_ListTickets(t *testing.T) {
	client := newTestGRPCClient(t, newStubOrderService())

	resp, err := client.ListTickets(context.Background(), &ListTicketsRequest{})
	if err != nil {
		t.Fatalf("ListTickets failed: %v", err)
	}
	if len(resp.Tickets) != 1 || resp.Tickets[0].ID != "ticket-vip" {
		t.Errorf("unexpected tickets %+v", resp.Tickets)
	}
}
