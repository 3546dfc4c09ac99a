package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
)

type GRPCHandler struct {
	transactions *service.TransactionService
	auth         *service.AuthService
	logger       *slog.Logger
}

func NewGRPCHandler(transactions *service.TransactionService, auth *service.AuthService, logger *slog.Logger) *GRPCHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GRPCHandler{transactions: transactions, auth: auth, logger: logger}
}

// NewServer builds a gRPC server speaking the JSON codec with token
// checks on every call, and registers h on it.
func (h *GRPCHandler) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(JSONCodec{}),
		grpc.UnaryInterceptor(h.AuthInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterLedgerServiceServer(srv, h)
	return srv
}

func (h *GRPCHandler) AuthInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 || !strings.HasPrefix(values[0], "Bearer ") {
		return nil, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	if _, err := h.auth.Verify(strings.TrimPrefix(values[0], "Bearer ")); err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return handler(ctx, req)
}

func (h *GRPCHandler) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*CreateTransactionResponse, error) {
	in := service.CreateTransactionInput{
		CustomerName:   req.CustomerName,
		InvoiceID:      req.InvoiceID,
		IdempotencyKey: req.RequestID,
	}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, service.LineInput{ItemID: l.ItemID, Quantity: int(l.Quantity)})
	}

	id, err := h.transactions.CreateTransaction(ctx, in)
	if err != nil {
		return nil, h.statusError(createTransactionMethod, err)
	}
	return &CreateTransactionResponse{TransactionID: id}, nil
}

func (h *GRPCHandler) DeleteTransaction(ctx context.Context, req *DeleteTransactionRequest) (*DeleteTransactionResponse, error) {
	if err := h.transactions.DeleteTransaction(ctx, req.TransactionID); err != nil {
		return nil, h.statusError(deleteTransactionMethod, err)
	}
	return &DeleteTransactionResponse{}, nil
}

func (h *GRPCHandler) ListTransactions(ctx context.Context, _ *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	txs, err := h.transactions.ListTransactions(ctx)
	if err != nil {
		return nil, h.statusError(listTransactionsMethod, err)
	}
	resp := &ListTransactionsResponse{Transactions: make([]TransactionMessage, 0, len(txs))}
	for _, t := range txs {
		resp.Transactions = append(resp.Transactions, newTransactionMessage(t))
	}
	return resp, nil
}

func (h *GRPCHandler) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*GetTransactionResponse, error) {
	tx, err := h.transactions.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, h.statusError(getTransactionMethod, err)
	}
	return &GetTransactionResponse{Transaction: newTransactionMessage(*tx)}, nil
}

func (h *GRPCHandler) statusError(method string, err error) error {
	var insufficient *domain.InsufficientStockError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		return status.Error(codes.InvalidArgument, invalid.Error())
	case errors.As(err, &insufficient):
		return status.Error(codes.FailedPrecondition, insufficient.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrTransactionNotFound):
		return status.Error(codes.NotFound, "transaction not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, domain.ErrStorage):
		h.logger.Error("rpc failed", "method", method, "error", err)
		return status.Error(codes.Unavailable, "temporarily unavailable, please retry")
	default:
		h.logger.Error("rpc failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func newTransactionMessage(t domain.Transaction) TransactionMessage {
	msg := TransactionMessage{
		ID:           t.ID,
		CustomerName: t.CustomerName,
		InvoiceID:    t.InvoiceID,
		TotalPrice:   t.TotalPrice.StringFixed(2),
		CreatedAt:    t.CreatedAt,
	}
	for _, l := range t.Lines {
		msg.Lines = append(msg.Lines, LineMessage{
			ItemID:    l.ItemID,
			Quantity:  int32(l.Quantity),
			UnitPrice: l.UnitPrice.StringFixed(2),
		})
	}
	return msg
}
